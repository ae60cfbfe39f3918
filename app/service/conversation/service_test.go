package conversation

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"valera/app/config"
	"valera/app/service/history"
	"valera/app/service/queue"
	"valera/app/service/settings"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeGen struct {
	mu        sync.Mutex
	reply     string
	imageDesc string
	err       error

	textCalls  int
	imageCalls int
	lastMsgs   []llms.MessageContent
}

func (f *fakeGen) GenerateText(_ context.Context, _ string, messages []llms.MessageContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.textCalls++
	f.lastMsgs = messages

	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGen) DescribeImage(_ context.Context, _, _ string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.imageCalls++

	if f.err != nil {
		return "", f.err
	}
	return f.imageDesc, nil
}

type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	replies []string
	file    []byte
	fileErr error
}

func (f *fakeSender) Reply(_ int64, _ int, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	f.replies = append(f.replies, text)
	return f.nextID, nil
}

func (f *fakeSender) DownloadFile(_ context.Context, _ string) ([]byte, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	return f.file, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.replies)
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Ollama: config.Ollama{
			Host:        "http://localhost:11434",
			Model:       "gemma3:12b",
			VisionModel: "qwen2.5vl:7b",
		},
		Bot: config.Bot{
			TokenLimit:         4096,
			MessageProbability: 0.1,
			Keywords:           []string{"валер", "@ai_valera"},
			MainChatID:         -100,
			AdminUsername:      "@admin",
		},
	}
}

func testService(t *testing.T, gen *fakeGen, sender *fakeSender) (*Service, *settings.Service, *history.Service) {
	t.Helper()

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	cfg := testConfig()
	do.ProvideValue(di, cfg)

	settingsSvc, err := settings.New(di)
	require.NoError(t, err)

	historySvc, err := history.New(di)
	require.NoError(t, err)

	return newService(cfg, settingsSvc, historySvc, gen, sender), settingsSvc, historySvc
}

func groupMsg(text string) queue.Message {
	return queue.Message{ChatID: -42, MessageID: 1, Username: "@user", Text: text}
}

func TestKeywordAlwaysTriggers(t *testing.T) {
	gen := &fakeGen{reply: "привет"}
	sender := &fakeSender{}
	svc, settingsSvc, _ := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(0))

	svc.HandleMessage(t.Context(), groupMsg("Валера, как дела?"))

	assert.Equal(t, 1, gen.textCalls)
	assert.Equal(t, "привет", sender.last())
}

func TestPrivateChatAlwaysTriggers(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	sender := &fakeSender{}
	svc, settingsSvc, _ := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(0))

	msg := queue.Message{ChatID: 7, MessageID: 1, Username: "@user", Text: "привет", Private: true}
	svc.HandleMessage(t.Context(), msg)

	assert.Equal(t, 1, sender.count())
}

func TestGroupMessageWithoutTriggerIsSilent(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	sender := &fakeSender{}
	svc, settingsSvc, historySvc := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(0))

	svc.HandleMessage(t.Context(), groupMsg("просто болтаем"))

	assert.Zero(t, sender.count())
	assert.Equal(t, 1, historySvc.Len(-42), "context is recorded even without a reply")
}

func TestReplyToBotTriggers(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	sender := &fakeSender{}
	svc, settingsSvc, _ := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(0))

	svc.sent.add(99)

	msg := groupMsg("ну и что думаешь")
	msg.ReplyToMessageID = 99
	svc.HandleMessage(t.Context(), msg)

	assert.Equal(t, 1, sender.count())
}

func TestRandomReplyRateConvergesToProbability(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	sender := &fakeSender{}
	svc, settingsSvc, historySvc := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(25))
	svc.randFloat = rand.New(rand.NewPCG(1, 2)).Float64

	for range minContextForRandom + 1 {
		historySvc.Append(-42, history.RoleUser, "@user: фон")
	}

	const samples = 20000

	hits := 0
	for range samples {
		if svc.shouldRespondRandomly(groupMsg("фон")) {
			hits++
		}
	}

	assert.InDelta(t, 0.25, float64(hits)/samples, 0.02)
}

func TestRandomReplyNeedsAccumulatedContext(t *testing.T) {
	gen := &fakeGen{reply: "ответ"}
	sender := &fakeSender{}
	svc, settingsSvc, _ := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(100))
	svc.randFloat = func() float64 { return 0 }

	// first message: context too small for a random interjection
	svc.HandleMessage(t.Context(), groupMsg("раз"))
	assert.Zero(t, sender.count())
}

func TestAssistantReplyRecordedInContext(t *testing.T) {
	gen := &fakeGen{reply: "моё мнение"}
	sender := &fakeSender{}
	svc, _, historySvc := testService(t, gen, sender)

	svc.HandleMessage(t.Context(), groupMsg("валер, мнение?"))

	entries := historySvc.Entries(-42)
	require.Len(t, entries, 2)
	assert.Equal(t, history.RoleUser, entries[0].Role)
	assert.Contains(t, entries[0].Content, "@user:")
	assert.Equal(t, history.RoleAssistant, entries[1].Role)
	assert.Equal(t, "моё мнение", entries[1].Content)
}

func TestMainChatPromptSelection(t *testing.T) {
	gen := &fakeGen{reply: "ок"}
	sender := &fakeSender{}
	svc, _, _ := testService(t, gen, sender)

	msg := queue.Message{ChatID: -100, MessageID: 1, Username: "@user", Text: "валер привет"}
	svc.HandleMessage(t.Context(), msg)

	require.NotEmpty(t, gen.lastMsgs)
	require.Equal(t, llms.ChatMessageTypeSystem, gen.lastMsgs[0].Role)

	system := gen.lastMsgs[0].Parts[0].(llms.TextContent).Text
	assert.Equal(t, strings.TrimSpace(mainPrompt), strings.TrimSpace(system))
}

func TestGenerationFailureSendsApologyAndRecovers(t *testing.T) {
	gen := &fakeGen{err: context.DeadlineExceeded}
	sender := &fakeSender{}
	svc, _, _ := testService(t, gen, sender)

	svc.HandleMessage(t.Context(), groupMsg("валер, ты тут?"))
	assert.Equal(t, apologyText, sender.last())

	// the loop keeps accepting messages after a backend failure
	gen.err = nil
	gen.reply = "тут"
	svc.HandleMessage(t.Context(), groupMsg("валер, а теперь?"))
	assert.Equal(t, "тут", sender.last())
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	gen := &fakeGen{err: errors.New("connection refused")}
	sender := &fakeSender{}
	svc, _, _ := testService(t, gen, sender)

	assert.NotPanics(t, func() {
		svc.HandleMessage(t.Context(), groupMsg("валер?"))
	})
}

func TestImageMessageAddsDescriptionToContext(t *testing.T) {
	gen := &fakeGen{reply: "ответ", imageDesc: "на фото кот"}
	sender := &fakeSender{file: []byte{0xff, 0xd8}}
	svc, settingsSvc, historySvc := testService(t, gen, sender)

	require.NoError(t, settingsSvc.SetProbabilityPercent(0))

	msg := groupMsg("смотри какой")
	msg.PhotoFileID = "file-1"
	svc.HandleMessage(t.Context(), msg)

	assert.Equal(t, 1, gen.imageCalls)

	entries := historySvc.Entries(-42)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "на фото кот")
	assert.Zero(t, sender.count(), "no keyword, no reply")
}

func TestImageAnalysisFailureDegradesToPlaceholder(t *testing.T) {
	gen := &fakeGen{err: errors.New("model not found")}
	sender := &fakeSender{file: []byte{0xff, 0xd8}}
	svc, _, historySvc := testService(t, gen, sender)

	msg := groupMsg("")
	msg.PhotoFileID = "file-1"
	svc.HandleMessage(t.Context(), msg)

	entries := historySvc.Entries(-42)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "изображение")
}
