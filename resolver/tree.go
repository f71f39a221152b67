// Package resolver matches messages to mappings: inbound transport messages
// through a wildcard topic tree, outbound platform events through a filter
// expression index.
package resolver

import (
	"sync"

	"github.com/c360/mapgate/errors"
	"github.com/c360/mapgate/mapping"
)

// treeNode is one topic segment in the tree. Mappings live on the node their
// pattern terminates at, in insertion order.
type treeNode struct {
	children map[string]*treeNode
	mappings []*mapping.Mapping
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[string]*treeNode)}
}

func (n *treeNode) empty() bool {
	return len(n.children) == 0 && len(n.mappings) == 0
}

// TopicTree is the wildcard topic index of a single tenant. A multi-level
// wildcard terminates its branch; resolution tries the literal child first,
// then "+", then "#".
type TopicTree struct {
	mu   sync.RWMutex
	root *treeNode
}

// NewTopicTree creates an empty tree.
func NewTopicTree() *TopicTree {
	return &TopicTree{root: newTreeNode()}
}

// Add indexes a mapping under its topic pattern. Patterns with a multi-level
// wildcard anywhere but the final segment are rejected.
func (t *TopicTree) Add(m *mapping.Mapping) error {
	segments, err := patternSegments(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, segment := range segments {
		child, ok := node.children[segment]
		if !ok {
			child = newTreeNode()
			node.children[segment] = child
		}
		node = child
	}
	node.mappings = append(node.mappings, m)
	return nil
}

// Delete removes a mapping from the tree and prunes branches left empty.
func (t *TopicTree) Delete(m *mapping.Mapping) error {
	segments, err := patternSegments(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !deleteRecursive(t.root, segments, m.ID) {
		return errors.WrapInvalid(errors.ErrMappingNotFound,
			"TopicTree", "Delete", "mapping not indexed: "+m.ID)
	}
	return nil
}

// deleteRecursive removes the mapping at the end of the segment path and
// reports whether it was found. Child nodes left empty are pruned on the way
// back up.
func deleteRecursive(node *treeNode, segments []string, id string) bool {
	if len(segments) == 0 {
		for i, m := range node.mappings {
			if m.ID == id {
				node.mappings = append(node.mappings[:i], node.mappings[i+1:]...)
				return true
			}
		}
		return false
	}

	child, ok := node.children[segments[0]]
	if !ok {
		return false
	}
	if !deleteRecursive(child, segments[1:], id) {
		return false
	}
	if child.empty() {
		delete(node.children, segments[0])
	}
	return true
}

// Resolve returns every mapping whose pattern matches the topic. Matches
// accumulate depth-first trying the literal child, then the single-level
// wildcard, then the multi-level wildcard, so results are deterministic and
// within one node follow insertion order.
func (t *TopicTree) Resolve(topic string) []*mapping.Mapping {
	segments := mapping.SplitTopic(topic)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matches []*mapping.Mapping
	resolveRecursive(t.root, segments, &matches)
	return matches
}

func resolveRecursive(node *treeNode, segments []string, matches *[]*mapping.Mapping) {
	if len(segments) == 0 {
		*matches = append(*matches, node.mappings...)
		// "a/#" also matches "a" itself.
		if hash, ok := node.children[mapping.TopicWildcardMulti]; ok {
			*matches = append(*matches, hash.mappings...)
		}
		return
	}

	if literal, ok := node.children[segments[0]]; ok {
		resolveRecursive(literal, segments[1:], matches)
	}
	if plus, ok := node.children[mapping.TopicWildcardSingle]; ok {
		resolveRecursive(plus, segments[1:], matches)
	}
	if hash, ok := node.children[mapping.TopicWildcardMulti]; ok {
		// Multi-level wildcard matches regardless of remaining segments.
		*matches = append(*matches, hash.mappings...)
	}
}

// Size returns the number of indexed mappings.
func (t *TopicTree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countRecursive(t.root)
}

func countRecursive(node *treeNode) int {
	total := len(node.mappings)
	for _, child := range node.children {
		total += countRecursive(child)
	}
	return total
}

// patternSegments validates and splits a mapping's subscription pattern.
func patternSegments(m *mapping.Mapping) ([]string, error) {
	segments := mapping.SplitTopic(m.TopicPattern)
	if len(segments) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidTopicPattern,
			"TopicTree", "patternSegments", "empty topic pattern for mapping "+m.ID)
	}
	for i, segment := range segments {
		if segment == mapping.TopicWildcardMulti && i != len(segments)-1 {
			return nil, errors.WrapInvalid(errors.ErrMultiWildcardPosition,
				"TopicTree", "patternSegments", "multi-level wildcard before final segment in "+m.TopicPattern)
		}
	}
	return segments, nil
}
