package console

import "testing"

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, cmd, args string
	}{
		{"/quit", "/quit", ""},
		{"/use telegram-main", "/use", "telegram-main"},
		{"/use   spaced   ", "/use", "spaced"},
		{"/help", "/help", ""},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd || args != tt.args {
			t.Fatalf("splitCommand(%q) = %q, %q; want %q, %q", tt.in, cmd, args, tt.cmd, tt.args)
		}
	}
}
