package mqtt311

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicTreeMatchTable(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{filter: "a", topic: "a", match: true},
		{filter: "a", topic: "b", match: false},
		{filter: "a/b", topic: "a/b", match: true},
		{filter: "a/b", topic: "a/c", match: false},
		{filter: "a/b", topic: "a", match: false},
		{filter: "a", topic: "a/b", match: false},
		{filter: "+", topic: "a", match: true},
		{filter: "+/+", topic: "a/b", match: true},
		{filter: "+/+", topic: "a", match: false},
		{filter: "sensors/+/temp", topic: "sensors/5/temp", match: true},
		{filter: "sensors/+/temp", topic: "sensors/5/humid", match: false},
		{filter: "#", topic: "a", match: true},
		{filter: "#", topic: "a/b/c", match: true},
		{filter: "a/#", topic: "a", match: true},
		{filter: "a/#", topic: "a/b", match: true},
		{filter: "a/#", topic: "a/b/c", match: true},
		{filter: "a/#", topic: "b", match: false},
		{filter: "a/+/#", topic: "a/b/c", match: true},
		{filter: "a//b", topic: "a//b", match: true},
		{filter: "a/+/b", topic: "a//b", match: true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"~"+tt.topic, func(t *testing.T) {
			tree := NewTopicTree()
			require.NoError(t, tree.Insert(tt.filter, QoS0, func(*Message) {}, nil))
			assert.Equal(t, tt.match, len(tree.Match(tt.topic)) == 1)
		})
	}
}

func TestTopicTreeInsertMatch(t *testing.T) {
	tree := NewTopicTree()

	var got []string
	handler := func(msg *Message) {
		got = append(got, msg.Topic)
	}

	require.NoError(t, tree.Insert("sensors/+/temp", QoS1, handler, nil))

	fired := tree.Publish(&Message{Topic: "sensors/5/temp"})
	assert.Equal(t, 1, fired)
	assert.Equal(t, []string{"sensors/5/temp"}, got)

	fired = tree.Publish(&Message{Topic: "sensors/5/humid"})
	assert.Zero(t, fired)
	assert.Len(t, got, 1)
}

func TestTopicTreeMultiLevelWildcard(t *testing.T) {
	tree := NewTopicTree()

	count := 0
	require.NoError(t, tree.Insert("a/#", QoS0, func(*Message) { count++ }, nil))

	for _, topic := range []string{"a", "a/b", "a/b/c"} {
		before := count
		tree.Publish(&Message{Topic: topic})
		assert.Equal(t, before+1, count, "topic %q should fire exactly once", topic)
	}

	tree.Publish(&Message{Topic: "b"})
	assert.Equal(t, 3, count)
}

func TestTopicTreeRootWildcard(t *testing.T) {
	tree := NewTopicTree()

	count := 0
	require.NoError(t, tree.Insert("#", QoS0, func(*Message) { count++ }, nil))

	tree.Publish(&Message{Topic: "a"})
	tree.Publish(&Message{Topic: "a/b/c"})
	assert.Equal(t, 2, count)
}

func TestTopicTreeEmptyLevels(t *testing.T) {
	tree := NewTopicTree()

	count := 0
	require.NoError(t, tree.Insert("a//b", QoS0, func(*Message) { count++ }, nil))

	tree.Publish(&Message{Topic: "a//b"})
	assert.Equal(t, 1, count)

	tree.Publish(&Message{Topic: "a/x/b"})
	assert.Equal(t, 1, count)
}

func TestTopicTreeDoubleInsertReplacesSubscription(t *testing.T) {
	tree := NewTopicTree()

	firstFired := 0
	secondFired := 0
	firstCleaned := false

	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) { firstFired++ }, func() { firstCleaned = true }))
	require.NoError(t, tree.Insert("a/b", QoS1, func(*Message) { secondFired++ }, nil))

	// The replaced subscription released its state
	assert.True(t, firstCleaned)

	fired := tree.Publish(&Message{Topic: "a/b"})
	assert.Equal(t, 1, fired)
	assert.Zero(t, firstFired)
	assert.Equal(t, 1, secondFired)

	assert.Equal(t, 1, tree.Count())
}

func TestTopicTreeRemove(t *testing.T) {
	tree := NewTopicTree()

	cleaned := false
	require.NoError(t, tree.Insert("a/b/c", QoS0, func(*Message) {}, func() { cleaned = true }))

	removed, err := tree.Remove("a/b/c")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, cleaned)

	// Balanced insert/remove yields zero callbacks
	assert.Zero(t, tree.Publish(&Message{Topic: "a/b/c"}))

	// Empty branches were pruned
	assert.Empty(t, tree.root.children)
}

func TestTopicTreeRemoveKeepsSiblings(t *testing.T) {
	tree := NewTopicTree()

	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) {}, nil))
	require.NoError(t, tree.Insert("a/c", QoS0, func(*Message) {}, nil))

	removed, err := tree.Remove("a/b")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, 1, tree.Count())
	assert.Equal(t, 1, tree.Publish(&Message{Topic: "a/c"}))
}

func TestTopicTreeRemoveIntermediateTerminus(t *testing.T) {
	tree := NewTopicTree()

	require.NoError(t, tree.Insert("a", QoS0, func(*Message) {}, nil))
	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) {}, nil))

	// Removing the parent keeps the child branch alive
	removed, err := tree.Remove("a")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Zero(t, tree.Publish(&Message{Topic: "a"}))
	assert.Equal(t, 1, tree.Publish(&Message{Topic: "a/b"}))
}

func TestTopicTreeRemoveUnknownFilter(t *testing.T) {
	tree := NewTopicTree()

	removed, err := tree.Remove("never/subscribed")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestTopicTreeMatchOverlappingFilters(t *testing.T) {
	tree := NewTopicTree()

	var fired []string
	sub := func(name string) MessageHandler {
		return func(*Message) { fired = append(fired, name) }
	}

	require.NoError(t, tree.Insert("a/b", QoS0, sub("exact"), nil))
	require.NoError(t, tree.Insert("a/+", QoS0, sub("plus"), nil))
	require.NoError(t, tree.Insert("a/#", QoS0, sub("hash"), nil))
	require.NoError(t, tree.Insert("#", QoS0, sub("root"), nil))

	count := tree.Publish(&Message{Topic: "a/b"})
	assert.Equal(t, 4, count)
	assert.ElementsMatch(t, []string{"exact", "plus", "hash", "root"}, fired)

	// Each subscription fires exactly once per delivery
	assert.Len(t, fired, 4)
}

func TestTopicTreeMatchRejectsWildcardTopic(t *testing.T) {
	tree := NewTopicTree()
	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) {}, nil))
	assert.Nil(t, tree.Match("a/+"))
}

func TestTopicTreeTransactionCommit(t *testing.T) {
	tree := NewTopicTree()

	tx := tree.Begin()
	require.NoError(t, tx.Insert("a/b", QoS0, func(*Message) {}, nil))
	require.NoError(t, tx.Insert("c/d", QoS1, func(*Message) {}, nil))

	// Nothing visible before commit
	assert.Zero(t, tree.Count())
	assert.Zero(t, tree.Publish(&Message{Topic: "a/b"}))

	tx.Commit()

	assert.Equal(t, 2, tree.Count())
	assert.Equal(t, 1, tree.Publish(&Message{Topic: "a/b"}))
	assert.Equal(t, 1, tree.Publish(&Message{Topic: "c/d"}))
}

func TestTopicTreeTransactionRollback(t *testing.T) {
	tree := NewTopicTree()

	cleaned := false
	tx := tree.Begin()
	require.NoError(t, tx.Insert("a/b", QoS0, func(*Message) {}, func() { cleaned = true }))
	tx.Rollback()

	// Interim allocations released, tree untouched
	assert.True(t, cleaned)
	assert.Zero(t, tree.Count())

	// Commit after rollback is a no-op
	tx.Commit()
	assert.Zero(t, tree.Count())
}

func TestTopicTreeTransactionMixed(t *testing.T) {
	tree := NewTopicTree()
	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) {}, nil))

	tx := tree.Begin()
	require.NoError(t, tx.Remove("a/b"))
	require.NoError(t, tx.Insert("c/d", QoS0, func(*Message) {}, nil))
	tx.Commit()

	assert.Zero(t, tree.Publish(&Message{Topic: "a/b"}))
	assert.Equal(t, 1, tree.Publish(&Message{Topic: "c/d"}))
}

func TestTopicTreeTransactionInvalidFilter(t *testing.T) {
	tree := NewTopicTree()

	tx := tree.Begin()
	assert.ErrorIs(t, tx.Insert("a/#/b", QoS0, func(*Message) {}, nil), ErrInvalidTopicFilter)
	assert.ErrorIs(t, tx.Remove(""), ErrEmptyTopic)
}

func TestTopicTreeSubscriptions(t *testing.T) {
	tree := NewTopicTree()

	require.NoError(t, tree.Insert("a/b", QoS1, func(*Message) {}, nil))
	require.NoError(t, tree.Insert("c/+", QoS2, func(*Message) {}, nil))

	subs := tree.Subscriptions()
	require.Len(t, subs, 2)

	filters := map[string]byte{}
	for _, sub := range subs {
		filters[sub.TopicFilter] = sub.QoS
	}
	assert.Equal(t, map[string]byte{"a/b": QoS1, "c/+": QoS2}, filters)
}

func TestTopicTreeClose(t *testing.T) {
	tree := NewTopicTree()

	cleanups := 0
	require.NoError(t, tree.Insert("a/b", QoS0, func(*Message) {}, func() { cleanups++ }))
	require.NoError(t, tree.Insert("a/#", QoS0, func(*Message) {}, func() { cleanups++ }))

	tree.Close()

	assert.Equal(t, 2, cleanups)
	assert.Zero(t, tree.Count())
	assert.Zero(t, tree.Publish(&Message{Topic: "a/b"}))
}

func TestTopicTreePublishDeliversFullMessage(t *testing.T) {
	tree := NewTopicTree()

	var got *Message
	require.NoError(t, tree.Insert("sensors/#", QoS1, func(msg *Message) { got = msg }, nil))

	sent := &Message{Topic: "sensors/5/temp", Payload: []byte("21.5"), QoS: QoS1}
	tree.Publish(sent)

	require.NotNil(t, got)
	assert.Equal(t, "sensors/5/temp", got.Topic)
	assert.Equal(t, []byte("21.5"), got.Payload)
}
