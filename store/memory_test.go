package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabeth/memq/models"
)

func TestCreateQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent with same attributes", func(t *testing.T) {
		s, _ := setupTestStore(t)
		attrs := map[string]string{"VisibilityTimeout": "60"}
		mustCreateQueue(t, s, "orders", attrs)

		created, err := s.CreateQueue(ctx, "orders", attrs, nil)
		require.NoError(t, err)
		assert.False(t, created)

		// Defaults count as the existing value.
		created, err = s.CreateQueue(ctx, "orders", map[string]string{"DelaySeconds": "0"}, nil)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("different attributes", func(t *testing.T) {
		s, _ := setupTestStore(t)
		mustCreateQueue(t, s, "orders", map[string]string{"VisibilityTimeout": "60"})

		_, err := s.CreateQueue(ctx, "orders", map[string]string{"VisibilityTimeout": "30"}, nil)
		assert.ErrorIs(t, err, ErrQueueNameExists)
	})

	t.Run("fifo name and attribute must agree", func(t *testing.T) {
		s, _ := setupTestStore(t)
		_, err := s.CreateQueue(ctx, "orders", map[string]string{"FifoQueue": "true"}, nil)
		assert.ErrorIs(t, err, ErrInvalidParameterValue)

		_, err = s.CreateQueue(ctx, "orders.fifo", map[string]string{"FifoQueue": "false"}, nil)
		assert.ErrorIs(t, err, ErrInvalidParameterValue)

		_, err = s.CreateQueue(ctx, "orders", map[string]string{"ContentBasedDeduplication": "true"}, nil)
		assert.ErrorIs(t, err, ErrInvalidAttributeValue)

		mustCreateQueue(t, s, "orders.fifo", map[string]string{"FifoQueue": "true"})
		assert.Equal(t, "true", attr(t, s, "orders.fifo", "FifoQueue"))
	})

	t.Run("redrive target must exist and match kind", func(t *testing.T) {
		s, _ := setupTestStore(t)
		policy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":3}`, testArn("dlq"))

		_, err := s.CreateQueue(ctx, "src", map[string]string{"RedrivePolicy": policy}, nil)
		assert.ErrorIs(t, err, ErrInvalidParameterValue)

		mustCreateQueue(t, s, "dlq.fifo", map[string]string{"FifoQueue": "true"})
		fifoPolicy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":3}`, testArn("dlq.fifo"))
		_, err = s.CreateQueue(ctx, "src", map[string]string{"RedrivePolicy": fifoPolicy}, nil)
		assert.ErrorIs(t, err, ErrInvalidParameterValue)

		mustCreateQueue(t, s, "dlq", nil)
		mustCreateQueue(t, s, "src", map[string]string{"RedrivePolicy": policy})
	})

	t.Run("policy compared by content", func(t *testing.T) {
		s, _ := setupTestStore(t)
		compact := `{"Version":"2012-10-17","Statement":[{"Sid":"grant","Effect":"Allow","Principal":{"AWS":["arn:aws:iam::111122223333:root"]},"Action":["SQS:SendMessage"],"Resource":"` + testArn("orders") + `"}]}`
		mustCreateQueue(t, s, "orders", map[string]string{"Policy": compact})

		indented := `{
  "Statement": [
    {
      "Action": ["SQS:SendMessage"],
      "Effect": "Allow",
      "Principal": {"AWS": ["arn:aws:iam::111122223333:root"]},
      "Resource": "` + testArn("orders") + `",
      "Sid": "grant"
    }
  ],
  "Version": "2012-10-17"
}`
		created, err := s.CreateQueue(ctx, "orders", map[string]string{"Policy": indented}, nil)
		require.NoError(t, err)
		assert.False(t, created)

		other := strings.Replace(compact, `"grant"`, `"other"`, 1)
		_, err = s.CreateQueue(ctx, "orders", map[string]string{"Policy": other}, nil)
		assert.ErrorIs(t, err, ErrQueueNameExists)
	})

	t.Run("unparseable attribute", func(t *testing.T) {
		s, _ := setupTestStore(t)
		_, err := s.CreateQueue(ctx, "q", map[string]string{"VisibilityTimeout": "soon"}, nil)
		assert.ErrorIs(t, err, ErrInvalidAttributeValue)
	})
}

func TestDeleteQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		s, _ := setupTestStore(t)
		mustCreateQueue(t, s, "q", nil)
		require.NoError(t, s.DeleteQueue(ctx, "q"))

		_, err := s.GetQueueArn(ctx, "q")
		assert.ErrorIs(t, err, ErrQueueDoesNotExist)
		assert.ErrorIs(t, s.DeleteQueue(ctx, "q"), ErrQueueDoesNotExist)

		mustCreateQueue(t, s, "q", nil)
	})

	t.Run("grace period", func(t *testing.T) {
		s, clock := setupTestStore(t, func(o *Options) { o.DeleteGracePeriod = time.Minute })
		mustCreateQueue(t, s, "q", nil)
		require.NoError(t, s.DeleteQueue(ctx, "q"))

		_, err := s.SendMessage(ctx, "q", &models.SendMessageRequest{MessageBody: "x"})
		assert.ErrorIs(t, err, ErrQueueDoesNotExist)
		_, err = s.CreateQueue(ctx, "q", nil, nil)
		assert.ErrorIs(t, err, ErrQueueDeletedRecently)

		names, _, err := s.ListQueues(ctx, 0, "", "")
		require.NoError(t, err)
		assert.Empty(t, names)

		clock.Advance(time.Minute)
		mustCreateQueue(t, s, "q", nil)
	})
}

func TestListQueues(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	for _, name := range []string{"beta", "alpha-2", "alpha-1", "gamma", "alpha-3"} {
		mustCreateQueue(t, s, name, nil)
	}

	all, token, err := s.ListQueues(ctx, 0, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha-1", "alpha-2", "alpha-3", "beta", "gamma"}, all)
	assert.Empty(t, token)

	page1, token, err := s.ListQueues(ctx, 2, "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha-1", "alpha-2"}, page1)
	require.NotEmpty(t, token)

	page2, token, err := s.ListQueues(ctx, 2, token, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha-3"}, page2)
	assert.Empty(t, token)

	_, _, err = s.ListQueues(ctx, 2, "%%%", "")
	assert.ErrorIs(t, err, ErrInvalidParameterValue)
}

func TestGetQueueAttributes(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	mustCreateQueue(t, s, "q", map[string]string{"MessageRetentionPeriod": "3600"})

	mustSend(t, s, "q", "one")
	mustSend(t, s, "q", "two")
	_, err := s.SendMessage(ctx, "q", &models.SendMessageRequest{MessageBody: "later", DelaySeconds: models.Ptr(int32(30))})
	require.NoError(t, err)
	require.Len(t, receive(t, s, "q", 1), 1)

	attrs, err := s.GetQueueAttributes(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "1", attrs["ApproximateNumberOfMessages"])
	assert.Equal(t, "1", attrs["ApproximateNumberOfMessagesNotVisible"])
	assert.Equal(t, "1", attrs["ApproximateNumberOfMessagesDelayed"])
	assert.Equal(t, "3600", attrs["MessageRetentionPeriod"])
	assert.Equal(t, "30", attrs["VisibilityTimeout"])
	assert.Equal(t, "262144", attrs["MaximumMessageSize"])
	assert.Equal(t, testArn("q"), attrs["QueueArn"])
	assert.Equal(t, fmt.Sprint(testEpoch.Unix()), attrs["CreatedTimestamp"])
	assert.NotContains(t, attrs, "FifoQueue")
}

func TestSetQueueAttributes(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTestStore(t)
	mustCreateQueue(t, s, "dlq", nil)
	mustCreateQueue(t, s, "q", map[string]string{"DelaySeconds": "5"})

	clock.Advance(time.Second)
	policy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":"2"}`, testArn("dlq"))
	require.NoError(t, s.SetQueueAttributes(ctx, "q", map[string]string{
		"VisibilityTimeout": "10",
		"RedrivePolicy":     policy,
	}))

	attrs, err := s.GetQueueAttributes(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "5", attrs["DelaySeconds"], "unmentioned attributes are kept")
	assert.Equal(t, "10", attrs["VisibilityTimeout"])
	assert.Equal(t, policy, attrs["RedrivePolicy"])
	assert.Equal(t, fmt.Sprint(testEpoch.Add(time.Second).Unix()), attrs["LastModifiedTimestamp"])

	sources, _, err := s.ListDeadLetterSourceQueues(ctx, "dlq", 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, sources)

	require.NoError(t, s.SetQueueAttributes(ctx, "q", map[string]string{"RedrivePolicy": ""}))
	attrs, err = s.GetQueueAttributes(ctx, "q")
	require.NoError(t, err)
	assert.NotContains(t, attrs, "RedrivePolicy")
	sources, _, err = s.ListDeadLetterSourceQueues(ctx, "dlq", 0, "")
	require.NoError(t, err)
	assert.Empty(t, sources)

	assert.ErrorIs(t, s.SetQueueAttributes(ctx, "q", map[string]string{"FifoQueue": "true"}), ErrInvalidAttributeValue)
	assert.ErrorIs(t, s.SetQueueAttributes(ctx, "q", map[string]string{"Bogus": "1"}), ErrInvalidAttributeValue)
	assert.ErrorIs(t, s.SetQueueAttributes(ctx, "missing", nil), ErrQueueDoesNotExist)
}

func TestPurgeQueue(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTestStore(t)
	mustCreateQueue(t, s, "q", nil)
	mustSend(t, s, "q", "a")
	mustSend(t, s, "q", "b")

	require.NoError(t, s.PurgeQueue(ctx, "q"))
	assert.Equal(t, "0", attr(t, s, "q", "ApproximateNumberOfMessages"))

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, s.PurgeQueue(ctx, "q"), ErrPurgeQueueInProgress)

	clock.Advance(time.Second)
	assert.NoError(t, s.PurgeQueue(ctx, "q"))
	assert.ErrorIs(t, s.PurgeQueue(ctx, "missing"), ErrQueueDoesNotExist)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	mustCreateQueue(t, s, "q", nil)

	stmt := models.Statement{
		Sid:       "send-only",
		Principal: models.Principal{AWS: []string{"arn:aws:iam::111122223333:root"}},
		Action:    []string{"SQS:SendMessage"},
	}
	require.NoError(t, s.AddPermission(ctx, "q", stmt))
	assert.ErrorIs(t, s.AddPermission(ctx, "q", stmt), ErrInvalidParameterValue)

	policy := attr(t, s, "q", "Policy")
	assert.Contains(t, policy, `"Sid":"send-only"`)
	assert.Contains(t, policy, `"Effect":"Allow"`)
	assert.Contains(t, policy, testArn("q"))

	require.NoError(t, s.RemovePermission(ctx, "q", "send-only"))
	assert.Empty(t, attr(t, s, "q", "Policy"))
	assert.ErrorIs(t, s.RemovePermission(ctx, "q", "send-only"), ErrInvalidParameterValue)
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	_, err := s.CreateQueue(ctx, "q", nil, map[string]string{"team": "payments"})
	require.NoError(t, err)

	require.NoError(t, s.TagQueue(ctx, "q", map[string]string{"env": "dev", "team": "billing"}))
	tags, err := s.ListQueueTags(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "dev", "team": "billing"}, tags)

	require.NoError(t, s.UntagQueue(ctx, "q", []string{"env", "absent"}))
	tags, err = s.ListQueueTags(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "billing"}, tags)

	_, err = s.ListQueueTags(ctx, "missing")
	assert.ErrorIs(t, err, ErrQueueDoesNotExist)
}

func TestListDeadLetterSourceQueues(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	mustCreateQueue(t, s, "dlq", nil)
	policy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":10}`, testArn("dlq"))
	for _, name := range []string{"src-c", "src-a", "src-b"} {
		mustCreateQueue(t, s, name, map[string]string{"RedrivePolicy": policy})
	}

	page, token, err := s.ListDeadLetterSourceQueues(ctx, "dlq", 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"src-a", "src-b"}, page)

	page, token, err = s.ListDeadLetterSourceQueues(ctx, "dlq", 2, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"src-c"}, page)
	assert.Empty(t, token)

	require.NoError(t, s.DeleteQueue(ctx, "src-b"))
	all, _, err := s.ListDeadLetterSourceQueues(ctx, "dlq", 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"src-a", "src-c"}, all)

	_, _, err = s.ListDeadLetterSourceQueues(ctx, "missing", 0, "")
	assert.ErrorIs(t, err, ErrQueueDoesNotExist)
}

func TestRetentionExpiry(t *testing.T) {
	s, clock := setupTestStore(t)
	mustCreateQueue(t, s, "q", map[string]string{"MessageRetentionPeriod": "60"})
	mustSend(t, s, "q", "short-lived")

	clock.Advance(59 * time.Second)
	assert.Equal(t, "1", attr(t, s, "q", "ApproximateNumberOfMessages"))

	clock.Advance(time.Second)
	assert.Equal(t, "0", attr(t, s, "q", "ApproximateNumberOfMessages"))
	assert.Empty(t, receive(t, s, "q", 10))
}

func TestMultipleStoresAreIndependent(t *testing.T) {
	a, _ := setupTestStore(t)
	b, _ := setupTestStore(t)
	mustCreateQueue(t, a, "shared-name", nil)

	_, err := b.GetQueueArn(context.Background(), "shared-name")
	assert.ErrorIs(t, err, ErrQueueDoesNotExist)
}
