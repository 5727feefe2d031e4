package browser

import "testing"

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			in:   "https://v.example/api/livechat/event/fetch-notifications?since=123&limit=50",
			want: "https://v.example/api/livechat/event/fetch-notifications",
		},
		{
			in:   "https://v.example/page#section",
			want: "https://v.example/page",
		},
		{
			in:   "https://v.example/plain",
			want: "https://v.example/plain",
		},
		{
			// Unparseable input passes through untouched.
			in:   "::not a url::",
			want: "::not a url::",
		},
	}
	for _, tt := range tests {
		if got := baseURL(tt.in); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
