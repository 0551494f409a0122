// Package fanout implements the bounded worker-pool executor that runs a
// single SQL statement across a selected set of topology members (§4.2).
package fanout

import (
	"database/sql"

	"github.com/clusterctl/core/internal/clustererr"
	"github.com/clusterctl/core/internal/metadata"
)

// Member is one candidate fan-out target. DB is nil when the member
// couldn't be reached during target resolution; such members still appear
// in the target list with a synthesized unreachable error (§4.2.1).
type Member struct {
	UUID      string
	Address   string
	Label     string
	Version   string
	Role      metadata.Role
	IsPrimary bool
	ClusterID string
	DB        *sql.DB
}

// Selector picks members either by an explicit address list or by one of
// the keywords in §4.2.1. Exactly one of Keyword or Addresses should be set.
type Selector struct {
	Keyword   string
	Addresses []string
}

// Keywords accepted by a Selector, long form and short form.
const (
	KeywordAll               = "all"
	KeywordAllShort          = "a"
	KeywordPrimary           = "primary"
	KeywordPrimaryShort      = "p"
	KeywordSecondaries       = "secondaries"
	KeywordSecondariesShort  = "s"
	KeywordReadReplicas      = "read-replicas"
	KeywordReadReplicasShort = "rr"
)

// ByKeyword builds a keyword Selector.
func ByKeyword(keyword string) Selector { return Selector{Keyword: keyword} }

// ByAddress builds an explicit address-list Selector.
func ByAddress(addresses ...string) Selector { return Selector{Addresses: addresses} }

func (s Selector) isZero() bool { return s.Keyword == "" && len(s.Addresses) == 0 }

func normalizeKeyword(keyword string) string {
	switch keyword {
	case KeywordAllShort:
		return KeywordAll
	case KeywordPrimaryShort:
		return KeywordPrimary
	case KeywordSecondariesShort:
		return KeywordSecondaries
	case KeywordReadReplicasShort:
		return KeywordReadReplicas
	default:
		return keyword
	}
}

func isReadReplica(role metadata.Role) bool {
	return role == metadata.RoleClusterReadReplica
}

// Select resolves the include/exclude selectors against members into the
// final, ordered target list (§4.2.1). multiPrimary reflects whether the
// owning Cluster runs in multi-primary mode; it makes the `secondaries`
// keyword a hard error on either side of the selection.
//
// members is the flattened candidate set: for a ClusterSet call, it already
// spans every reachable member Cluster, with IsPrimary true only on the
// overall primary of the primary Cluster — Select itself has no notion of
// Cluster boundaries beyond that.
func Select(members []Member, include, exclude Selector, multiPrimary bool) ([]Member, error) {
	if include.isZero() {
		return nil, clustererr.Argument("an include selector is required")
	}

	included, err := resolve(members, include, multiPrimary)
	if err != nil {
		return nil, err
	}

	if exclude.isZero() {
		return included, nil
	}

	excluded, err := resolve(members, exclude, multiPrimary)
	if err != nil {
		return nil, err
	}
	excludedUUIDs := make(map[string]bool, len(excluded))
	for _, m := range excluded {
		excludedUUIDs[m.UUID] = true
	}

	result := make([]Member, 0, len(included))
	for _, m := range included {
		if !excludedUUIDs[m.UUID] {
			result = append(result, m)
		}
	}
	return result, nil
}

func resolve(members []Member, sel Selector, multiPrimary bool) ([]Member, error) {
	if sel.Keyword != "" {
		return resolveKeyword(members, sel.Keyword, multiPrimary)
	}
	return resolveAddresses(members, sel.Addresses)
}

func resolveKeyword(members []Member, keyword string, multiPrimary bool) ([]Member, error) {
	switch normalizeKeyword(keyword) {
	case KeywordAll:
		out := make([]Member, len(members))
		copy(out, members)
		return out, nil

	case KeywordPrimary:
		for _, m := range members {
			if m.IsPrimary {
				return []Member{m}, nil
			}
		}
		return nil, clustererr.Argument("no primary member found")

	case KeywordSecondaries:
		if multiPrimary {
			return nil, clustererr.Argument("the 'secondaries' selector is invalid when the cluster runs in multi-primary mode")
		}
		var out []Member
		for _, m := range members {
			if !m.IsPrimary && !isReadReplica(m.Role) {
				out = append(out, m)
			}
		}
		return out, nil

	case KeywordReadReplicas:
		var out []Member
		for _, m := range members {
			if isReadReplica(m.Role) {
				out = append(out, m)
			}
		}
		return out, nil

	default:
		return nil, clustererr.Argument("unknown selector keyword %q", keyword)
	}
}

func resolveAddresses(members []Member, addresses []string) ([]Member, error) {
	byAddress := make(map[string]Member, len(members))
	for _, m := range members {
		byAddress[m.Address] = m
	}

	out := make([]Member, 0, len(addresses))
	for _, addr := range addresses {
		m, ok := byAddress[addr]
		if !ok {
			return nil, clustererr.Argument("unknown member address %q", addr)
		}
		out = append(out, m)
	}
	return out, nil
}
