package candidates

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultSearchLimit caps Search results.
const DefaultSearchLimit = 10

// MinQueryLength is the shortest query Search answers.
const MinQueryLength = 2

var digitRun = regexp.MustCompile(`\d+`)

// Search scans list in order and returns up to limit candidates whose name
// contains query, or whose state matches the letters of query and whose
// district equals the first number in query.
func Search(list []Candidate, query string, limit int) []Candidate {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return []Candidate{}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	lower := strings.ToLower(query)
	stateInput := lettersOnly(lower)

	district := NoDistrict
	if m := digitRun.FindString(query); m != "" {
		if d, err := strconv.Atoi(m); err == nil {
			district = d
		}
	}

	results := []Candidate{}
	for _, c := range list {
		if matches(c, lower, stateInput, district) {
			results = append(results, c)
			if len(results) >= limit {
				break
			}
		}
	}
	return results
}

func matches(c Candidate, lower, stateInput string, district int) bool {
	if strings.Contains(strings.ToLower(c.Name), lower) {
		return true
	}
	if district == NoDistrict || c.District == NoDistrict || c.District != district {
		return false
	}
	return stateMatches(c.State, stateInput)
}

// stateMatches requires some letters in the query; a bare number never
// matches on district alone.
func stateMatches(state, stateInput string) bool {
	if stateInput == "" || state == "" {
		return false
	}
	if strings.ToLower(state) == stateInput {
		return true
	}
	name, ok := StateName(state)
	return ok && strings.Contains(strings.ToLower(name), stateInput)
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PartyFilters maps a party selector to the accepted party_full values.
var PartyFilters = map[string][]string{
	"democrat":   {"DEMOCRATIC PARTY"},
	"republican": {"REPUBLICAN PARTY"},
	"other":      {"NON-PARTY", "INDEPENDENT", "LIBERTARIAN PARTY", "GREEN PARTY", ""},
}

// DefaultParty is used for unknown party selectors.
const DefaultParty = "democrat"

// FilterParty keeps candidates in a known state whose party matches the
// selector.
func FilterParty(list []Candidate, party string) []Candidate {
	valid, ok := PartyFilters[strings.ToLower(party)]
	if !ok {
		valid = PartyFilters[DefaultParty]
	}

	out := []Candidate{}
	for _, c := range list {
		if _, known := StateName(c.State); !known {
			continue
		}
		p := strings.ToUpper(c.Party)
		for _, v := range valid {
			if p == v {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Local returns the party's House candidates for state and district plus the
// state's Senate candidates, House seats first.
func Local(list []Candidate, party, state string, district int) []Candidate {
	state = strings.ToUpper(strings.TrimSpace(state))

	out := []Candidate{}
	for _, c := range FilterParty(list, party) {
		if c.State != state {
			continue
		}
		switch {
		case c.District == 0:
			c.Type = TypeSenate
		case c.District == district:
			c.Type = TypeHouse
		default:
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToUpper(out[i].Type) < strings.ToUpper(out[j].Type)
	})
	return out
}
