package wellknown

import (
	"bytes"
	"encoding/csv"
	"io"
	"log"
	"strings"

	_ "embed"
)

//go:embed default_members.csv
var defaultMembersData string

var defaultRegistry map[string][]string

func init() {
	defaultRegistry = make(map[string][]string)
	reader := csv.NewReader(bytes.NewBufferString(defaultMembersData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded default_members.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded default_members.csv: %v", err)
		}
		if len(record) < 2 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(record[0]))
		for _, member := range strings.Split(record[1], ";") {
			if member = strings.TrimSpace(member); member != "" {
				defaultRegistry[field] = append(defaultRegistry[field], member)
			}
		}
	}
}

// DefaultMembers returns a fresh copy of the members a match field holds
// when nothing is configured for it.
func DefaultMembers(field string) ([]string, bool) {
	members, ok := defaultRegistry[strings.ToLower(field)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), members...), true
}

// IsWildcard reports whether members is exactly the unrestricted set for
// field. Member names are case-sensitive.
func IsWildcard(field string, members []string) bool {
	def, ok := defaultRegistry[strings.ToLower(field)]
	if !ok || len(members) != len(def) {
		return false
	}
	for i := range def {
		if members[i] != def[i] {
			return false
		}
	}
	return true
}
