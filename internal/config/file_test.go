package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), f)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatdock.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chatdock.yaml")
	on := true
	in := File{
		Listen:         "127.0.0.1:4000",
		EntryURL:       "https://chat.example/start",
		Headless:       &on,
		WelcomeTexts:   "hello\nhowdy",
		ReplyTemplates: "thanks:one moment",
		AutoReply:      &on,
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileSession(t *testing.T) {
	off := false
	f := File{
		EntryURL:             "https://chat.example/start",
		WelcomeTexts:         "hello\n\nhowdy\n",
		ReplyTemplates:       "thanks:one moment",
		Proxies:              "10.0.0.1:8080|u:p",
		UserAgents:           "UA-1\nUA-2",
		AutoReply:            &off,
		Headless:             &off,
		DebounceWaitTimeMs:   1500,
		DebounceNewMessageMs: 250,
		RestartDelaySec:      1,
	}

	s := f.Session()
	assert.Equal(t, "https://chat.example/start", s.EntryURL)
	assert.Equal(t, []string{"hello", "howdy"}, s.WelcomeTexts)
	assert.Equal(t, []string{"thanks:one moment"}, s.ReplyTemplates)
	assert.Equal(t, []string{"10.0.0.1:8080|u:p"}, s.ProxyPool)
	assert.Equal(t, []string{"UA-1", "UA-2"}, s.UserAgents)
	assert.False(t, s.AutoReply)
	assert.False(t, s.Headless)
	assert.Equal(t, 1500*time.Millisecond, s.DebounceWaitTime)
	assert.Equal(t, 250*time.Millisecond, s.DebounceNewMessage)
	assert.Equal(t, time.Second, s.RestartDelay)
	// Unset millisecond fields still come back normalized.
	assert.Equal(t, DefaultMessagePacing, s.MessagePacing)
}

func TestFileSessionDefaults(t *testing.T) {
	s := File{}.Session()
	assert.True(t, s.AutoReply)
	assert.True(t, s.Headless)
	assert.Equal(t, DefaultDebounceWaitTime, s.DebounceWaitTime)
	assert.Equal(t, DefaultDebounceNewMessage, s.DebounceNewMessage)
	// Without a configured pool the built-in user agents apply.
	assert.Equal(t, DefaultUserAgents(), s.UserAgents)
}

func TestStoreUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatdock.yaml")
	store := NewStore(path, DefaultFile())

	require.NoError(t, store.Update(func(f *File) {
		f.EntryURL = "https://chat.example/start"
	}))
	assert.Equal(t, "https://chat.example/start", store.Current().EntryURL)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example/start", reloaded.EntryURL)
}
