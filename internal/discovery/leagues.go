package discovery

import "strings"

// League maps a league code to the slug prefix Polymarket uses for it.
type League struct {
	Code   string
	Prefix string
}

var leagues = []League{
	{"epl", "epl"},
	{"bundesliga", "bun"},
	{"laliga", "lal"},
	{"seriea", "sea"},
	{"ligue1", "fl1"},
	{"ucl", "ucl"},
	{"uel", "uel"},
	{"eflc", "elc"},
	{"nba", "nba"},
	{"nfl", "nfl"},
	{"nhl", "nhl"},
	{"mlb", "mlb"},
	{"mls", "mls"},
	{"ncaaf", "cfb"},
}

// Leagues returns every supported league.
func Leagues() []League {
	out := make([]League, len(leagues))
	copy(out, leagues)
	return out
}

// LookupLeague finds a league by code or slug prefix.
func LookupLeague(name string) (League, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, l := range leagues {
		if l.Code == name || l.Prefix == name {
			return l, true
		}
	}
	return League{}, false
}

// LeagueOf returns the league part of a market slug: everything before the
// first "-".
func LeagueOf(slug string) string {
	head, _, _ := strings.Cut(slug, "-")
	return head
}

// leagueFilter accepts slugs whose league part names an enabled league by
// code or prefix. An empty filter accepts everything.
type leagueFilter map[string]struct{}

func newLeagueFilter(enabled []string) leagueFilter {
	if len(enabled) == 0 {
		return nil
	}
	f := make(leagueFilter, 2*len(enabled))
	for _, name := range enabled {
		if l, ok := LookupLeague(name); ok {
			f[l.Code] = struct{}{}
			f[l.Prefix] = struct{}{}
			continue
		}
		f[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return f
}

func (f leagueFilter) allows(slug string) bool {
	if f == nil {
		return true
	}
	_, ok := f[strings.ToLower(LeagueOf(slug))]
	return ok
}

// searchPrefixes returns the slug prefixes to search when no slugs are
// configured.
func searchPrefixes(enabled []string) []string {
	if len(enabled) == 0 {
		out := make([]string, 0, len(leagues))
		for _, l := range leagues {
			out = append(out, l.Prefix)
		}
		return out
	}
	var out []string
	for _, name := range enabled {
		if l, ok := LookupLeague(name); ok {
			out = append(out, l.Prefix)
		}
	}
	return out
}
