package mqtt311

import (
	"strings"
	"sync"
)

// MessageHandler handles incoming MQTT messages.
type MessageHandler func(msg *Message)

// Subscription is a live entry in the topic tree: a topic filter with the
// handler that fires on matching publishes.
type Subscription struct {
	// TopicFilter is the subscription pattern, possibly with wildcards.
	TopicFilter string

	// QoS is the maximum QoS granted for this subscription.
	QoS byte

	// Handler fires once per matching publish delivery.
	Handler MessageHandler

	// Cleanup runs when the subscription is overwritten, removed, or the
	// tree is torn down. May be nil.
	Cleanup func()
}

func (s *Subscription) cleanup() {
	if s.Cleanup != nil {
		s.Cleanup()
	}
}

// topicNode is one level of the routing trie. A node holds a subscription
// iff it is a terminus; nodes with neither a subscription nor children are
// pruned on removal.
type topicNode struct {
	segment  string
	children map[string]*topicNode
	sub      *Subscription
}

func newTopicNode(segment string) *topicNode {
	return &topicNode{
		segment:  segment,
		children: make(map[string]*topicNode),
	}
}

// TopicTree routes publish topics to subscriptions using a trie keyed by
// topic levels, with `+` and `#` as wildcard child keys.
//
// Mutation goes through transactions so that a SUBSCRIBE packet carrying
// several topic entries becomes visible to concurrent dispatch all at once
// or not at all.
type TopicTree struct {
	mu   sync.RWMutex
	root *topicNode
}

// NewTopicTree creates an empty topic tree.
func NewTopicTree() *TopicTree {
	return &TopicTree{root: newTopicNode("")}
}

// treeAction is one pending mutation inside a transaction.
type treeAction struct {
	remove bool
	filter string
	sub    *Subscription
}

// Transaction accumulates insert/remove actions that apply atomically on
// Commit. Rollback discards them without touching the tree.
type Transaction struct {
	tree    *TopicTree
	actions []treeAction
	done    bool
}

// Begin starts a new transaction with an empty action list.
func (t *TopicTree) Begin() *Transaction {
	return &Transaction{tree: t}
}

// Insert appends a pending subscription insert. The tree is not mutated
// until Commit.
func (tx *Transaction) Insert(filter string, qos byte, handler MessageHandler, cleanup func()) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	tx.actions = append(tx.actions, treeAction{
		filter: filter,
		sub: &Subscription{
			TopicFilter: filter,
			QoS:         qos,
			Handler:     handler,
			Cleanup:     cleanup,
		},
	})
	return nil
}

// Remove appends a pending subscription removal. The tree is not mutated
// until Commit.
func (tx *Transaction) Remove(filter string) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	tx.actions = append(tx.actions, treeAction{remove: true, filter: filter})
	return nil
}

// Commit applies all pending actions atomically with respect to concurrent
// Match calls.
func (tx *Transaction) Commit() {
	if tx.done {
		return
	}
	tx.done = true

	tx.tree.mu.Lock()
	for _, action := range tx.actions {
		if action.remove {
			tx.tree.removeLocked(action.filter)
		} else {
			tx.tree.insertLocked(action.sub)
		}
	}
	tx.tree.mu.Unlock()
	tx.actions = nil
}

// Rollback discards all pending actions, running the cleanup of any
// subscription that was staged but never applied.
func (tx *Transaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true

	for _, action := range tx.actions {
		if !action.remove && action.sub != nil {
			action.sub.cleanup()
		}
	}
	tx.actions = nil
}

// Insert adds or replaces a subscription in a single-action transaction.
func (t *TopicTree) Insert(filter string, qos byte, handler MessageHandler, cleanup func()) error {
	tx := t.Begin()
	if err := tx.Insert(filter, qos, handler, cleanup); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// Remove deletes a subscription in a single-action transaction.
// Returns true if the filter had a subscription.
func (t *TopicTree) Remove(filter string) (bool, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return false, err
	}

	t.mu.Lock()
	removed := t.removeLocked(filter)
	t.mu.Unlock()
	return removed, nil
}

func (t *TopicTree) insertLocked(sub *Subscription) {
	node := t.root
	for _, level := range strings.Split(sub.TopicFilter, string(topicSeparator)) {
		child, ok := node.children[level]
		if !ok {
			child = newTopicNode(level)
			node.children[level] = child
		}
		node = child
	}

	// Replacing an existing subscription releases its user state first
	if node.sub != nil {
		node.sub.cleanup()
	}
	node.sub = sub
}

func (t *TopicTree) removeLocked(filter string) bool {
	levels := strings.Split(filter, string(topicSeparator))
	return removeNode(t.root, levels)
}

// removeNode descends to the terminal node, clears its subscription, and
// prunes empty branches on the way back up. Returns true if a subscription
// was removed.
func removeNode(node *topicNode, levels []string) bool {
	if len(levels) == 0 {
		if node.sub == nil {
			return false
		}
		node.sub.cleanup()
		node.sub = nil
		return true
	}

	child, ok := node.children[levels[0]]
	if !ok {
		return false
	}

	removed := removeNode(child, levels[1:])

	if child.sub == nil && len(child.children) == 0 {
		delete(node.children, levels[0])
	}

	return removed
}

// Match returns every subscription whose filter matches the topic. The
// topic must not contain wildcards. Candidates are explored exact segment
// first, then `+`, then `#`; order across matches is deterministic for a
// given tree but otherwise unspecified.
func (t *TopicTree) Match(topic string) []*Subscription {
	if err := ValidateTopicName(topic); err != nil {
		return nil
	}

	levels := strings.Split(topic, string(topicSeparator))

	var subs []*Subscription
	t.mu.RLock()
	matchNode(t.root, levels, &subs)
	t.mu.RUnlock()
	return subs
}

func matchNode(node *topicNode, levels []string, subs *[]*Subscription) {
	if len(levels) == 0 {
		if node.sub != nil {
			*subs = append(*subs, node.sub)
		}
		// "a/#" also matches "a": the wildcard covers zero levels
		if child, ok := node.children[string(multiLevelWildcard)]; ok && child.sub != nil {
			*subs = append(*subs, child.sub)
		}
		return
	}

	if child, ok := node.children[levels[0]]; ok {
		matchNode(child, levels[1:], subs)
	}

	if child, ok := node.children[string(singleLevelWildcard)]; ok {
		matchNode(child, levels[1:], subs)
	}

	// A multi-level wildcard child matches regardless of remaining levels
	if child, ok := node.children[string(multiLevelWildcard)]; ok && child.sub != nil {
		*subs = append(*subs, child.sub)
	}
}

// Publish dispatches a message to every matching subscription, firing each
// handler exactly once with the full topic and payload.
func (t *TopicTree) Publish(msg *Message) int {
	subs := t.Match(msg.Topic)
	for _, sub := range subs {
		if sub.Handler != nil {
			sub.Handler(msg)
		}
	}
	return len(subs)
}

// Subscriptions returns a snapshot of all live subscriptions.
func (t *TopicTree) Subscriptions() []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var subs []Subscription
	collectSubscriptions(t.root, &subs)
	return subs
}

func collectSubscriptions(node *topicNode, subs *[]Subscription) {
	if node.sub != nil {
		*subs = append(*subs, *node.sub)
	}
	for _, child := range node.children {
		collectSubscriptions(child, subs)
	}
}

// Count returns the number of live subscriptions.
func (t *TopicTree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countSubscriptions(t.root)
}

func countSubscriptions(node *topicNode) int {
	count := 0
	if node.sub != nil {
		count++
	}
	for _, child := range node.children {
		count += countSubscriptions(child)
	}
	return count
}

// Close tears down the tree, running every subscription's cleanup.
func (t *TopicTree) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cleanupNode(t.root)
	t.root = newTopicNode("")
}

func cleanupNode(node *topicNode) {
	if node.sub != nil {
		node.sub.cleanup()
		node.sub = nil
	}
	for _, child := range node.children {
		cleanupNode(child)
	}
}
