package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/arloliu/peerpair/internal/logging"
	"github.com/arloliu/peerpair/types"
)

// LMSConfig configures the course-platform REST client.
type LMSConfig struct {
	// BaseURL is the platform root, e.g. https://canvas.example.edu.
	BaseURL string `yaml:"baseURL"`

	// Timeout bounds every HTTP request (default: 15s).
	Timeout time.Duration `yaml:"timeout"`

	// PageSize is the per_page value of list requests (default: 100).
	PageSize int `yaml:"pageSize"`

	// AccessToken is an initial bearer token. It may be empty when a refresh
	// token is configured.
	AccessToken string `yaml:"accessToken"`

	// OAuth enables transparent token refresh. Without it an expired token
	// fails the call.
	OAuth *OAuthConfig `yaml:"oauth,omitempty"`
}

// OAuthConfig holds the OAuth2 refresh-token grant settings.
type OAuthConfig struct {
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	TokenURL     string `yaml:"tokenURL"`
	RefreshToken string `yaml:"refreshToken"`
}

// Validate checks the client configuration.
func (c LMSConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("lms baseURL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("lms baseURL: %w", err)
	}
	if c.AccessToken == "" && c.OAuth == nil {
		return errors.New("lms needs an accessToken or oauth settings")
	}
	if c.OAuth != nil && (c.OAuth.TokenURL == "" || c.OAuth.RefreshToken == "") {
		return errors.New("lms oauth needs tokenURL and refreshToken")
	}

	return nil
}

// LMSClient is a RosterProvider for a Canvas-compatible REST API.
//
// On a 401 response the client refreshes its token once through the OAuth2
// refresh grant and retries; a second 401 fails the call with
// types.ErrRosterUnavailable. List endpoints follow Link rel="next" pagination.
type LMSClient struct {
	base     *url.URL
	http     *http.Client
	pageSize int
	oauth    *oauth2.Config
	logger   types.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

var _ types.RosterProvider = (*LMSClient)(nil)

// NewLMSClient creates a client.
//
// Parameters:
//   - cfg: Client configuration
//   - httpClient: HTTP client to use (a client with cfg.Timeout when nil)
//   - logger: Logger (nop when nil)
//
// Returns:
//   - *LMSClient: Ready client
//   - error: types.ErrInvalidConfig for a bad configuration
func NewLMSClient(cfg LMSConfig, httpClient *http.Client, logger types.Logger) (*LMSClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	base, _ := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))

	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &LMSClient{
		base:     base,
		http:     httpClient,
		pageSize: cfg.PageSize,
		logger:   logger,
		token:    &oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"},
	}

	if cfg.OAuth != nil {
		c.oauth = &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth.TokenURL},
		}
		c.token.RefreshToken = cfg.OAuth.RefreshToken
	}

	return c, nil
}

type lmsAssignment struct {
	ID                    int64      `json:"id"`
	CourseID              int64      `json:"course_id"`
	Name                  string     `json:"name"`
	DueAt                 *time.Time `json:"due_at"`
	GroupCategoryID       *int64     `json:"group_category_id"`
	IntraGroupPeerReviews bool       `json:"intra_group_peer_reviews"`
}

type lmsSubmission struct {
	UserID        int64    `json:"user_id"`
	WorkflowState string   `json:"workflow_state"`
	Score         *float64 `json:"score"`
}

type lmsGroup struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type lmsUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	LoginID string `json:"login_id"`
	Email   string `json:"email"`
}

func (u lmsUser) toUser() types.User {
	return types.User{ExternalID: u.ID, Username: u.LoginID, Name: u.Name, Email: u.Email}
}

func submissionState(workflow string) types.SubmissionState {
	switch workflow {
	case "unsubmitted", "":
		return types.SubmissionUnsubmitted
	case "graded":
		return types.SubmissionGraded
	default:
		return types.SubmissionSubmitted
	}
}

// Assignment implements types.RosterProvider.
func (c *LMSClient) Assignment(ctx context.Context, courseID, assignmentID int64) (types.Assignment, error) {
	var raw lmsAssignment
	path := fmt.Sprintf("/api/v1/courses/%d/assignments/%d", courseID, assignmentID)
	if _, err := c.get(ctx, c.resolve(path, nil), &raw); err != nil {
		return types.Assignment{}, err
	}

	a := types.Assignment{
		ID:                    raw.ID,
		CourseID:              courseID,
		Name:                  raw.Name,
		DueAt:                 raw.DueAt,
		IntraGroupPeerReviews: raw.IntraGroupPeerReviews,
	}
	if raw.GroupCategoryID != nil {
		a.GroupCategoryID = *raw.GroupCategoryID
	}

	return a, nil
}

// Submissions implements types.RosterProvider.
func (c *LMSClient) Submissions(ctx context.Context, courseID, assignmentID int64) ([]types.Submission, error) {
	raw, err := list[lmsSubmission](ctx, c, fmt.Sprintf("/api/v1/courses/%d/assignments/%d/submissions", courseID, assignmentID), nil)
	if err != nil {
		return nil, err
	}

	subs := make([]types.Submission, len(raw))
	for i, s := range raw {
		subs[i] = types.Submission{UserExternalID: s.UserID, State: submissionState(s.WorkflowState), Score: s.Score}
	}

	return subs, nil
}

// Groups implements types.RosterProvider.
func (c *LMSClient) Groups(ctx context.Context, groupCategoryID int64) ([]types.Group, error) {
	raw, err := list[lmsGroup](ctx, c, fmt.Sprintf("/api/v1/group_categories/%d/groups", groupCategoryID), nil)
	if err != nil {
		return nil, err
	}

	groups := make([]types.Group, len(raw))
	for i, g := range raw {
		groups[i] = types.Group{ID: g.ID, Name: g.Name}
	}

	return groups, nil
}

// GroupMembers implements types.RosterProvider.
func (c *LMSClient) GroupMembers(ctx context.Context, groupID int64) ([]types.User, error) {
	raw, err := list[lmsUser](ctx, c, fmt.Sprintf("/api/v1/groups/%d/users", groupID), nil)
	if err != nil {
		return nil, err
	}

	users := make([]types.User, len(raw))
	for i, u := range raw {
		users[i] = u.toUser()
	}

	return users, nil
}

// Enrollments implements types.RosterProvider.
func (c *LMSClient) Enrollments(ctx context.Context, courseID int64, roles ...types.EnrollmentRole) ([]types.User, error) {
	if len(roles) == 0 {
		roles = []types.EnrollmentRole{types.RoleStudent}
	}

	query := url.Values{}
	for _, r := range roles {
		query.Add("enrollment_type[]", string(r))
	}

	raw, err := list[lmsUser](ctx, c, fmt.Sprintf("/api/v1/courses/%d/users", courseID), query)
	if err != nil {
		return nil, err
	}

	users := make([]types.User, len(raw))
	for i, u := range raw {
		users[i] = u.toUser()
	}

	return users, nil
}

func (c *LMSClient) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()

	return u.String()
}

// list fetches every page of a list endpoint.
func list[T any](ctx context.Context, c *LMSClient, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(c.pageSize))

	var out []T
	next := c.resolve(path, query)
	for next != "" {
		var page []T
		header, err := c.get(ctx, next, &page)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		next = nextLink(header.Get("Link"))
	}

	return out, nil
}

// get performs one GET, refreshing the token once on 401.
func (c *LMSClient) get(ctx context.Context, target string, out any) (http.Header, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrRosterUnavailable, err)
		}
		token.SetAuthHeader(req)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrRosterUnavailable, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.oauth != nil {
			drain(resp)
			c.logger.Info("course platform rejected token, refreshing", "url", target)
			if err := c.refresh(ctx, token); err != nil {
				return nil, err
			}

			continue
		}

		return resp.Header, decode(resp, target, out)
	}
}

func decode(resp *http.Response, target string, out any) error {
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: GET %s returned %s", types.ErrRosterUnavailable, target, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", types.ErrRosterUnavailable, target, err)
	}

	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (c *LMSClient) currentToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token.AccessToken != "" && token.Valid() {
		return token, nil
	}
	if err := c.refresh(ctx, token); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.token, nil
}

// refresh replaces stale with a new token unless another caller already did.
func (c *LMSClient) refresh(ctx context.Context, stale *oauth2.Token) error {
	if c.oauth == nil {
		return fmt.Errorf("%w: access token expired and no refresh configured", types.ErrRosterUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != stale {
		return nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	fresh, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: stale.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("%w: token refresh: %w", types.ErrRosterUnavailable, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stale.RefreshToken
	}
	c.token = fresh

	return nil
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}

		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}

		for _, param := range segments[1:] {
			if strings.ReplaceAll(strings.TrimSpace(param), " ", "") == `rel="next"` {
				return target[1 : len(target)-1]
			}
		}
	}

	return ""
}
