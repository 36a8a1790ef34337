package temporal

import (
	"errors"
	"testing"
	"time"

	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"
)

const testAddress = "1DrDyTr9RpRsQnDnXo2YRiPzPW4ooHX5LLoqXrqfMrpQH"

func testViewEvent() *natspkg.ViewEvent {
	return &natspkg.ViewEvent{
		Address:     testAddress,
		Balance:     txn.NewAmount(1500),
		TotalCount:  12,
		LoadedCount: 10,
		HeadHash:    "h12",
		Source:      "schedule",
	}
}

func TestSyncAddressWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          SyncAddressInput
		mockActivities func(fetchMock, publishMock *testsuite.MockCallWrapper)
		expectedError  bool
		validateResult func(*testing.T, *SyncAddressResult)
	}{
		{
			name:  "fetch and publish",
			input: SyncAddressInput{Address: testAddress, Pages: 1},
			mockActivities: func(fetchMock, publishMock *testsuite.MockCallWrapper) {
				fetchMock.Return(testViewEvent(), nil)
				publishMock.Return(true, nil)
			},
			validateResult: func(t *testing.T, result *SyncAddressResult) {
				assert.Equal(t, testAddress, result.Address)
				assert.Equal(t, "1500", result.Balance)
				assert.Equal(t, 12, result.TotalCount)
				assert.Equal(t, 10, result.LoadedCount)
				assert.Equal(t, "h12", result.HeadHash)
				assert.True(t, result.Published)
				assert.Nil(t, result.Error)
			},
		},
		{
			name:  "publishing disabled on the worker",
			input: SyncAddressInput{Address: testAddress},
			mockActivities: func(fetchMock, publishMock *testsuite.MockCallWrapper) {
				fetchMock.Return(testViewEvent(), nil)
				publishMock.Return(false, nil)
			},
			validateResult: func(t *testing.T, result *SyncAddressResult) {
				assert.False(t, result.Published)
				assert.Nil(t, result.Error)
			},
		},
		{
			name:  "skip publish",
			input: SyncAddressInput{Address: testAddress, SkipPublish: true},
			mockActivities: func(fetchMock, publishMock *testsuite.MockCallWrapper) {
				fetchMock.Return(testViewEvent(), nil)
				// PublishView should NOT be called
			},
			validateResult: func(t *testing.T, result *SyncAddressResult) {
				assert.Equal(t, "h12", result.HeadHash)
				assert.False(t, result.Published)
			},
		},
		{
			name:  "fetch fails",
			input: SyncAddressInput{Address: testAddress},
			mockActivities: func(fetchMock, publishMock *testsuite.MockCallWrapper) {
				fetchMock.Return(nil, errors.New("explorer unavailable"))
			},
			expectedError: true,
		},
		{
			name:  "publish fails",
			input: SyncAddressInput{Address: testAddress},
			mockActivities: func(fetchMock, publishMock *testsuite.MockCallWrapper) {
				fetchMock.Return(testViewEvent(), nil)
				publishMock.Return(false, errors.New("nats down"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			// Register activities first (before mocking)
			activities := &Activities{}
			env.RegisterActivity(activities.FetchLatest)
			env.RegisterActivity(activities.PublishView)

			fetchMock := env.OnActivity(activities.FetchLatest, mock.Anything, mock.Anything)
			publishMock := env.OnActivity(activities.PublishView, mock.Anything, mock.Anything)
			tt.mockActivities(fetchMock, publishMock)

			env.ExecuteWorkflow(SyncAddressWorkflow, tt.input)

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			assert.NoError(t, env.GetWorkflowError())
			var result SyncAddressResult
			assert.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestSyncAddressWorkflow_ActivityRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.FetchLatest)
	env.RegisterActivity(activities.PublishView)

	// Mock FetchLatest to fail twice then succeed
	callCount := 0
	env.OnActivity(activities.FetchLatest, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(testViewEvent(), nil)
	env.OnActivity(activities.PublishView, mock.Anything, mock.Anything).Return(true, nil)

	env.ExecuteWorkflow(SyncAddressWorkflow, SyncAddressInput{Address: testAddress})

	assert.NoError(t, env.GetWorkflowError())
	var result SyncAddressResult
	assert.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 12, result.TotalCount)
	assert.Equal(t, 3, callCount)
}

func TestSyncAddressWorkflow_CompletesQuickly(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.FetchLatest)
	env.RegisterActivity(activities.PublishView)

	startTime := env.Now()
	env.OnActivity(activities.FetchLatest, mock.Anything, mock.Anything).Return(testViewEvent(), nil)
	env.OnActivity(activities.PublishView, mock.Anything, mock.Anything).Return(true, nil)

	env.ExecuteWorkflow(SyncAddressWorkflow, SyncAddressInput{Address: testAddress})

	// no timers in the workflow: simulated time barely moves
	assert.Less(t, env.Now().Sub(startTime), 30*time.Second)
	assert.NoError(t, env.GetWorkflowError())
}
