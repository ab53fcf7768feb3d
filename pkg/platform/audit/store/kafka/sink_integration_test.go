//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/store/kafka"
	"veriface/pkg/testutil/containers"
)

type SinkSuite struct {
	suite.Suite
	brokers []string
}

func TestSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
}

func (s *SinkSuite) TestAppendPublishesJSONRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "biometrics.recognition-events.test"
	sink, err := kafka.New(s.brokers, topic)
	s.Require().NoError(err)
	defer sink.Close()

	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "existing topic is tolerated")
	s.Require().NoError(sink.Ping(ctx))

	score := 0.92
	s.Require().NoError(sink.Append(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Timestamp: time.Now().UTC(),
		SubjectID: "emp-1",
		Action:    string(audit.EventVerification),
		Status:    "SUCCESS",
		Score:     &score,
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal("emp-1", string(records[0].Key))

	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(string(audit.EventVerification), got.Action)
	s.Require().NotNil(got.Score)
	s.InDelta(0.92, *got.Score, 1e-9)
}
