// Package subscription maintains the bidirectional follow graph between
// subscribers and the authors they follow.
//
// Entries are lists, not sets: following the same author twice records the
// pair twice in both directions, and unfollowing removes every occurrence.
package subscription

import (
	"fmt"
	"sort"
)

// Graph holds follows (subscriber -> authors) and followers (author ->
// subscribers). The two maps always agree pair-for-pair, including
// multiplicity. A Graph is not safe for concurrent use.
type Graph struct {
	follows   map[string][]string
	followers map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		follows:   make(map[string][]string),
		followers: make(map[string][]string),
	}
}

// FromMaps builds a graph from its two persisted directions and checks that
// they agree.
func FromMaps(follows, followers map[string][]string) (*Graph, error) {
	g := New()
	for k, v := range follows {
		g.follows[k] = append([]string(nil), v...)
	}
	for k, v := range followers {
		g.followers[k] = append([]string(nil), v...)
	}
	if err := g.Consistent(); err != nil {
		return nil, err
	}
	return g, nil
}

// Follow records that subscriber follows author.
func (g *Graph) Follow(subscriber, author string) {
	g.follows[subscriber] = append(g.follows[subscriber], author)
	g.followers[author] = append(g.followers[author], subscriber)
}

// Unfollow removes every occurrence of the pair from both directions. The
// subscriber keeps its (possibly empty) follows entry.
func (g *Graph) Unfollow(subscriber, author string) {
	if authors, ok := g.follows[subscriber]; ok {
		g.follows[subscriber] = without(authors, author)
	}
	if subs, ok := g.followers[author]; ok {
		g.followers[author] = without(subs, subscriber)
	}
}

// Follows returns a copy of the authors subscriber follows, in follow order.
// ok is false when the subscriber has never sent a follow.
func (g *Graph) Follows(subscriber string) (authors []string, ok bool) {
	list, ok := g.follows[subscriber]
	if !ok {
		return nil, false
	}
	return append([]string{}, list...), true
}

// Followers returns a copy of the subscribers following author.
func (g *Graph) Followers(author string) []string {
	return append([]string{}, g.followers[author]...)
}

// FollowsMap returns a deep copy of the subscriber -> authors direction.
func (g *Graph) FollowsMap() map[string][]string { return copyMap(g.follows) }

// FollowersMap returns a deep copy of the author -> subscribers direction.
func (g *Graph) FollowersMap() map[string][]string { return copyMap(g.followers) }

// Clone returns an independent copy of g.
func (g *Graph) Clone() *Graph {
	return &Graph{follows: copyMap(g.follows), followers: copyMap(g.followers)}
}

// Consistent verifies that every (subscriber, author) pair appears with the
// same multiplicity in both directions.
func (g *Graph) Consistent() error {
	forward := pairCounts(g.follows, false)
	backward := pairCounts(g.followers, true)
	if len(forward) != len(backward) {
		return fmt.Errorf("subscription graph inconsistent: %d pairs forward, %d backward", len(forward), len(backward))
	}
	keys := make([]pair, 0, len(forward))
	for p := range forward {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subscriber != keys[j].subscriber {
			return keys[i].subscriber < keys[j].subscriber
		}
		return keys[i].author < keys[j].author
	})
	for _, p := range keys {
		if forward[p] != backward[p] {
			return fmt.Errorf("subscription graph inconsistent: %s -> %s appears %d times forward, %d backward",
				p.subscriber, p.author, forward[p], backward[p])
		}
	}
	return nil
}

type pair struct{ subscriber, author string }

func pairCounts(m map[string][]string, reversed bool) map[pair]int {
	counts := make(map[pair]int)
	for k, list := range m {
		for _, v := range list {
			if reversed {
				counts[pair{subscriber: v, author: k}]++
			} else {
				counts[pair{subscriber: k, author: v}]++
			}
		}
	}
	return counts
}

func without(list []string, value string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func copyMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}
