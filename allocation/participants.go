package allocation

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/matching"
	"github.com/arloliu/peerpair/types"
)

// participant is one person in an assignment's pairing universe. It is
// assembled per run from roster data and never persisted.
type participant struct {
	user       types.User
	groupID    int64
	submission *types.Submission
	canGrade   bool
	canReceive bool
}

// population holds the participants of one run, ordered by local user ID so
// seeded runs see the same input order.
type population struct {
	byID  map[types.UserID]*participant
	order []types.UserID
}

func newPopulation() *population {
	return &population{byID: make(map[types.UserID]*participant)}
}

func (p *population) add(pt *participant) {
	if _, ok := p.byID[pt.user.ID]; ok {
		return
	}
	p.byID[pt.user.ID] = pt
	p.order = append(p.order, pt.user.ID)
}

func (p *population) sort() {
	slices.Sort(p.order)
}

func (p *population) graders() []types.UserID {
	var out []types.UserID
	for _, id := range p.order {
		if p.byID[id].canGrade {
			out = append(out, id)
		}
	}

	return out
}

func (p *population) recipients() []types.UserID {
	var out []types.UserID
	for _, id := range p.order {
		if p.byID[id].canReceive {
			out = append(out, id)
		}
	}

	return out
}

func (p *population) users() map[types.UserID]types.User {
	out := make(map[types.UserID]types.User, len(p.byID))
	for id, pt := range p.byID {
		out[id] = pt.user
	}

	return out
}

// loadPopulation builds the participants of an automatic run.
//
// Every enrolled student with a submission entry takes part. Excluded
// usernames neither grade nor receive. Graders are all remaining students,
// or only those with an eligible submission when defaulters are excluded;
// recipients always need an eligible submission.
func (o *Orchestrator) loadPopulation(ctx context.Context, req AutomaticRequest, users *userResolver) (*population, error) {
	students, err := o.roster.Enrollments(ctx, req.CourseID, types.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}

	local, err := users.resolve(ctx, students, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve students: %w", err)
	}

	subs, err := o.roster.Submissions(ctx, req.CourseID, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	byExternal := make(map[int64]types.Submission, len(subs))
	for _, s := range subs {
		byExternal[s.UserExternalID] = s
	}

	excluded := make(map[string]struct{}, len(req.ExcludedUsernames))
	for _, name := range req.ExcludedUsernames {
		excluded[name] = struct{}{}
	}

	pop := newPopulation()
	for _, u := range local {
		sub, ok := byExternal[u.ExternalID]
		if !ok {
			continue
		}
		_, isExcluded := excluded[u.Username]

		pt := &participant{
			user:       u,
			submission: &sub,
			canGrade:   !isExcluded,
			canReceive: !isExcluded && sub.Eligible(),
		}
		if req.ExcludeDefaulters {
			pt.canGrade = pt.canReceive
		}
		pop.add(pt)
	}
	pop.sort()

	o.logger.Debug("population loaded",
		"students", len(students),
		"participants", len(pop.order),
		"excluded", len(excluded),
	)

	return pop, nil
}

// loadGroups returns the groups of a group assignment for non-group matching
// and records each participant's group.
func (o *Orchestrator) loadGroups(ctx context.Context, assignment types.Assignment, pop *population, users *userResolver) ([]matching.GroupGraders, error) {
	groups, err := o.roster.Groups(ctx, assignment.GroupCategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	slices.SortFunc(groups, func(a, b types.Group) int { return cmp.Compare(a.ID, b.ID) })

	out := make([]matching.GroupGraders, 0, len(groups))
	for _, g := range groups {
		members, err := o.groupMembers(ctx, g.ID, users)
		if err != nil {
			return nil, err
		}

		gg := matching.GroupGraders{GroupID: g.ID}
		for _, u := range members {
			gg.Members = append(gg.Members, u.ID)
			if pt, ok := pop.byID[u.ID]; ok {
				pt.groupID = g.ID
				if pt.canGrade {
					gg.Graders = append(gg.Graders, u.ID)
				}
			}
		}
		out = append(out, gg)
	}

	return out, nil
}

// groupMembers resolves the members of a group to known local users.
func (o *Orchestrator) groupMembers(ctx context.Context, groupID int64, users *userResolver) ([]types.User, error) {
	members, err := o.roster.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of group %d: %w", groupID, err)
	}

	local, err := users.resolve(ctx, members, false)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve members of group %d: %w", groupID, err)
	}
	slices.SortFunc(local, func(a, b types.User) int { return cmp.Compare(a.ID, b.ID) })

	return local, nil
}

// previewIDBase is the first temporary ID handed to students a dry run does
// not know yet. Temporary IDs sort after every local ID in roster order,
// matching the IDs a persisting run would create.
const previewIDBase types.UserID = 1 << 62

// userResolver maps roster users to local user records for one run.
//
// A persisting run creates missing records in the directory. A dry run never
// writes: unknown users get a temporary ID that lives only as long as the
// resolver.
type userResolver struct {
	directory types.Directory
	dryRun    bool
	temp      map[int64]types.User
	next      types.UserID
}

func (o *Orchestrator) newResolver(dryRun bool) *userResolver {
	return &userResolver{
		directory: o.directory,
		dryRun:    dryRun,
		temp:      make(map[int64]types.User),
		next:      previewIDBase,
	}
}

// resolve returns the local records of users. With create set, missing users
// are created (or given a temporary ID in a dry run); otherwise they are
// omitted.
func (r *userResolver) resolve(ctx context.Context, users []types.User, create bool) ([]types.User, error) {
	local, err := r.directory.EnsureUsers(ctx, users, create && !r.dryRun)
	if err != nil || !r.dryRun {
		return local, err
	}

	known := make(map[int64]bool, len(users))
	for _, u := range local {
		known[u.ExternalID] = true
	}
	for _, u := range users {
		if known[u.ExternalID] {
			continue
		}
		known[u.ExternalID] = true

		tmp, ok := r.temp[u.ExternalID]
		if !ok {
			if !create {
				continue
			}
			u.ID = r.next
			r.next++
			r.temp[u.ExternalID] = u
			tmp = u
		}
		local = append(local, tmp)
	}

	return local, nil
}
