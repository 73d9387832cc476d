package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/listener/notification"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) {
	m.Called(ctx, execution)
}

func TestNotificationListener_NotifiesAfterJob(t *testing.T) {
	je := test.NewTestJobExecution("notifiedJob")
	n := &mockNotifier{}
	n.On("NotifyJobCompletion", mock.Anything, je).Once()

	l := notification.NewNotificationListener(n)
	l.BeforeJob(context.Background(), je)
	l.AfterJob(context.Background(), je)
	n.AssertExpectations(t)
}

func TestSummary(t *testing.T) {
	je := test.NewTestJobExecution("summaryJob")
	se := je.CreateStepExecution("summaryStep")
	c := model.NewStepContribution(se)
	for i := 0; i < 3; i++ {
		c.IncrementReadCount()
	}
	c.IncrementWriteCount(3)
	se.Apply(c)
	je.MarkAsStarted()
	je.Finish()

	got := notification.Summary(je.Clone(), je.StepExecutionsSnapshot())
	assert.Contains(t, got, "Job 'summaryJob'")
	assert.Contains(t, got, "Status: COMPLETED")
	assert.Contains(t, got, "Steps: 1, Read: 3, Written: 3, Failures: 0")
}
