package allocation

import (
	_ "embed"
	"strings"
)

//go:embed pseudonyms.txt
var pseudonymFile string

func defaultPseudonyms() []string {
	var names []string
	for line := range strings.SplitSeq(pseudonymFile, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}

	return names
}

// pseudonymCycle hands out names from a pool, starting over when the pool
// is exhausted.
type pseudonymCycle struct {
	names []string
	next  int
}

func (c *pseudonymCycle) take() string {
	if len(c.names) == 0 {
		return ""
	}
	name := c.names[c.next%len(c.names)]
	c.next++

	return name
}
