package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/approval"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/providers"
	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/rtdb"
)

const (
	eventuallyTimeout = 2 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)

type fakeProvider struct {
	text string
}

func (p *fakeProvider) GetDefaultModel() string { return "fake-model" }

func (p *fakeProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ string, _ providers.Options) (*providers.LLMResponse, error) {
	return &providers.LLMResponse{Text: p.text}, nil
}

func (p *fakeProvider) ChatStream(ctx context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ string, _ providers.Options, handler providers.StreamHandler) (*providers.LLMResponse, error) {
	if err := handler(ctx, providers.StreamEvent{Type: providers.EventTextChunk, Chunk: p.text}); err != nil {
		return nil, err
	}
	resp := &providers.LLMResponse{Text: p.text}
	_ = handler(ctx, providers.StreamEvent{Type: providers.EventDone, Response: resp})
	return resp, nil
}

type recordingBroadcaster struct {
	events []string
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, _, _, eventType string, _ interface{}) error {
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingBroadcaster) BroadcastCard(context.Context, string, string, string, string, approval.Card) error {
	return nil
}

func (r *recordingBroadcaster) NotifyUser(context.Context, string, string, string) error { return nil }

func (r *recordingBroadcaster) WithdrawNotification(context.Context, string, string) error { return nil }

type fakeProfiles struct {
	uc   *brain.UserContext
	jobs *brain.JobsSnapshot
}

func (f *fakeProfiles) LoadUserContext(context.Context, string, string) (*brain.UserContext, error) {
	return f.uc, nil
}

func (f *fakeProfiles) LoadJobsData(context.Context, string) (*brain.JobsSnapshot, error) {
	return f.jobs, nil
}

type fakeWorker struct {
	jobID string
}

func (f *fakeWorker) LaunchOnboardingJob(context.Context, string, string, string) (string, error) {
	return f.jobID, nil
}

func newTestManager() (*Manager, *recordingBroadcaster, rtdb.Store) {
	store := rtdb.NewMemoryStore()
	bcast := &recordingBroadcaster{}
	approvalProto := approval.NewProtocol(store, bcast)
	m := New(&Deps{
		Provider:      &fakeProvider{text: "ok"},
		Model:         "fake-model",
		TokenBudget:   80000,
		MaxIterations: 20,
		Store:         store,
		Broadcaster:   bcast,
		Approval:      approvalProto,
		Profiles:      &fakeProfiles{uc: &brain.UserContext{CompanyName: "Acme"}, jobs: &brain.JobsSnapshot{}},
		Worker:        &fakeWorker{jobID: "job1"},
	})
	return m, bcast, store
}

func TestInitializeSession_CreatesThenRefreshes(t *testing.T) {
	m, _, _ := newTestManager()

	res, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "created", res.Status)

	res2, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	require.Equal(t, "refreshed", res2.Status)
}

func TestEnterChat_CreatesBrainFromEmptyHistory(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)

	res, err := m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.BrainReady)
}

func TestSendMessage_WritesPlaceholderAndRunsWorkflow(t *testing.T) {
	m, bcast, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	_, err = m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)

	res, err := m.SendMessage(context.Background(), "u1", "t1", "thread1", "hi", brain.ModeGeneral, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.AssistantMessageID)

	require.Eventually(t, func() bool {
		node, _ := store.Get(context.Background(), "t1/chats/thread1/messages/"+res.AssistantMessageID)
		return node != nil && node["status"] == "complete"
	}, eventuallyTimeout, eventuallyTick)

	require.Contains(t, bcast.events, "llm.stream_start")
}

func TestSendMessage_MissingBrainReturnsUnsuccessful(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)

	res, err := m.SendMessage(context.Background(), "u1", "t1", "thread-never-entered", "hi", brain.ModeGeneral, "")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
}

func TestFlushChatHistory_ClearsBrainAndStopsStreaming(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	_, err = m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)

	res := m.FlushChatHistory("u1", "t1", "thread1")
	require.True(t, res.Success)
	require.Equal(t, []string{"thread1"}, res.ThreadsCleared)
}

func TestStartOnboardingChat_LaunchesJobOnceAndInstallsListener(t *testing.T) {
	m, _, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeOnboarding)
	require.NoError(t, err)

	res, err := m.StartOnboardingChat(context.Background(), "u1", "t1", "thread1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "job1", res.JobID)
	require.False(t, res.JobAlreadyLaunched)

	_, err = store.Push(context.Background(), "t1/job_chats/job1/messages", map[string]interface{}{
		"message_type": "MESSAGE", "content": `{"message":{"argumentText":"progress update"}}`,
	})
	require.NoError(t, err)
}

func TestInvalidateUserContext_ClearsContextAndReportsBrainCount(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	_, err = m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)

	res, err := m.InvalidateUserContext(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.BrainsInvalidated)
}
