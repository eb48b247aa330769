package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/pinnokio-firebase-microservice-sub003/pkg/brain"
)

func TestResumeAfterLPT_UserOnThread_BroadcastsPlaceholderThenStreams(t *testing.T) {
	m, bcast, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	_, err = m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)

	res, err := m.ResumeAfterLPT(context.Background(), LPTCallback{
		UserID: "u1", TenantID: "t1", ThreadKey: "thread1", Mode: brain.ModeGeneral,
		TaskResponse: "invoice lookup finished", OriginalTool: "LOOKUP_INVOICE", UserConnected: true,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.AssistantMessageID)

	require.Eventually(t, func() bool {
		node, _ := store.Get(context.Background(), "t1/chats/thread1/messages/"+res.AssistantMessageID)
		return node != nil && node["status"] == "complete"
	}, eventuallyTimeout, eventuallyTick)

	require.Contains(t, bcast.events, "assistant_message_placeholder")
}

func TestResumeAfterLPT_UserOffThread_NoPlaceholderBroadcastNoStreaming(t *testing.T) {
	m, bcast, store := newTestManager()
	_, err := m.InitializeSession(context.Background(), "u1", "t1", "client-1", brain.ModeGeneral)
	require.NoError(t, err)
	_, err = m.EnterChat(context.Background(), "u1", "t1", "thread1", brain.ModeGeneral, "", "")
	require.NoError(t, err)
	m.LeaveChat("u1", "t1")

	res, err := m.ResumeAfterLPT(context.Background(), LPTCallback{
		UserID: "u1", TenantID: "t1", ThreadKey: "thread1", Mode: brain.ModeGeneral,
		TaskResponse: "done", OriginalTool: "SOME_TOOL", UserConnected: false,
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Eventually(t, func() bool {
		node, _ := store.Get(context.Background(), "t1/chats/thread1/messages/"+res.AssistantMessageID)
		return node != nil && node["status"] == "complete"
	}, eventuallyTimeout, eventuallyTick)

	for _, ev := range bcast.events {
		require.NotEqual(t, "assistant_message_placeholder", ev)
	}
}

func TestBuildContinuationPrompt_PlannedIncludesStepGuidance(t *testing.T) {
	prompt := buildContinuationPrompt(LPTCallback{
		OriginalTool: "RECONCILE_BANK", TaskResponse: "matched 12 of 14",
		Planned: &PlannedContinuation{StepID: "s2"},
	})
	require.Contains(t, prompt, "UPDATE_STEP")
	require.Contains(t, prompt, "s2")
	require.Contains(t, prompt, "matched 12 of 14")
}

func TestBuildContinuationPrompt_SimpleHasNoStepGuidance(t *testing.T) {
	prompt := buildContinuationPrompt(LPTCallback{OriginalTool: "LOOKUP_INVOICE", TaskResponse: "found 3 invoices"})
	require.NotContains(t, prompt, "UPDATE_STEP")
	require.Contains(t, prompt, "found 3 invoices")
}
