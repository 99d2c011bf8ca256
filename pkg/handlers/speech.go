package handlers

import (
	"context"
	"runtime"
	"strconv"
	"strings"

	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// Speech speaks text with macOS say or espeak.
type Speech struct {
	Base
	voice string
}

// DefaultSpeechCommand is "say" on macOS and "espeak" elsewhere.
func DefaultSpeechCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

// NewSpeech returns a speech handler. voice is used when a request names
// none.
func NewSpeech(voice string, opts ...Option) *Speech {
	return &Speech{Base: newBase(model.ServiceSpeech, DefaultSpeechCommand(), opts), voice: voice}
}

func (s *Speech) Handle(ctx context.Context, p model.Payload) (daemon.Result, error) {
	req, ok := p.(model.SpeechSay)
	if !ok {
		return s.unsupported(p)
	}

	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}
	if _, err := s.run(ctx, s.args(req.Message, voice, req.Rate)...); err != nil {
		return daemon.Result{}, err
	}

	data := map[string]any{"characters": len([]rune(req.Message))}
	if voice != "" {
		data["voice"] = voice
	}
	return daemon.Result{Message: "spoken", Data: data}, nil
}

// args builds the command line; espeak spells the rate flag -s. The
// message follows "--" so sandbox text is never read as an option.
func (s *Speech) args(message, voice string, rate int) []string {
	var args []string
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if rate > 0 {
		flag := "-r"
		if strings.HasPrefix(s.tool(), "espeak") {
			flag = "-s"
		}
		args = append(args, flag, strconv.Itoa(rate))
	}
	return append(args, "--", message)
}
