package framing

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

const sampleStream = `{"id":0,"result":"deadbeef"}` + "\n" +
	`{"method":"update_user_data","params":{"balance":12}}` + "\n" +
	`{"id":1,"result":{"id":42,"name":"alice ✓"}}` + "\n" +
	`{"id":2,"error":{"code":1,"message":"bad signature"}}` + "\n"

func decodeAll(t *testing.T, d *Decoder, chunks [][]byte) []Frame {
	t.Helper()
	var out []Frame
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return out
}

func rawFrames(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f.Raw))
	}
	return out
}

func TestFeedSingleChunkDecodesAllFrames(t *testing.T) {
	frames := NewDecoder(0).Feed([]byte(sampleStream))
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Err != nil {
			t.Fatalf("frame %d: unexpected error %v", i, f.Err)
		}
	}
	if frames[0].Message.Kind() != models.KindResponse || *frames[0].Message.ID != 0 {
		t.Fatalf("unexpected first frame: %+v", frames[0].Message)
	}
	if frames[1].Message.Kind() != models.KindNotification || frames[1].Message.Method != "update_user_data" {
		t.Fatalf("unexpected notification frame: %+v", frames[1].Message)
	}
	if !frames[3].Message.Response().HasError() {
		t.Fatal("expected error envelope in last frame")
	}
}

func TestFeedIsInvariantToChunkBoundaries(t *testing.T) {
	stream := []byte(sampleStream)
	want := rawFrames(NewDecoder(0).Feed(stream))

	for split := 0; split <= len(stream); split++ {
		d := NewDecoder(0)
		got := rawFrames(decodeAll(t, d, [][]byte{stream[:split], stream[split:]}))
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("split at %d: got %q want %q", split, got, want)
		}
		if d.Buffered() != 0 {
			t.Fatalf("split at %d: expected empty buffer, got %d", split, d.Buffered())
		}
	}

	d := NewDecoder(0)
	var chunks [][]byte
	for i := range stream {
		chunks = append(chunks, stream[i:i+1])
	}
	got := rawFrames(decodeAll(t, d, chunks))
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("byte-at-a-time: got %q want %q", got, want)
	}
}

func TestFeedKeepsUnterminatedTail(t *testing.T) {
	d := NewDecoder(0)
	if frames := d.Feed([]byte(`{"id":7,"res`)); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if d.Buffered() != len(`{"id":7,"res`) {
		t.Fatalf("unexpected buffered size %d", d.Buffered())
	}
	if frames := d.Feed(nil); len(frames) != 0 {
		t.Fatalf("empty feed produced %d frames", len(frames))
	}
	frames := d.Feed([]byte("ult\":true}\n{\"id\":8"))
	if len(frames) != 1 || *frames[0].Message.ID != 7 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if d.Buffered() != len(`{"id":8`) {
		t.Fatalf("unexpected tail size %d", d.Buffered())
	}
}

func TestFeedMalformedFrameDoesNotStopDecoding(t *testing.T) {
	frames := NewDecoder(0).Feed([]byte("{not json}\n{\"id\":0,\"result\":1}\n"))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	var protoErr *rpckit.ProtocolError
	if !errors.As(frames[0].Err, &protoErr) {
		t.Fatalf("expected protocol error, got %v", frames[0].Err)
	}
	if protoErr.Kind() != "malformed_json" {
		t.Fatalf("unexpected kind %q", protoErr.Kind())
	}
	if frames[1].Err != nil {
		t.Fatalf("second frame should decode, got %v", frames[1].Err)
	}
	if resp := frames[1].Message.Response(); resp == nil || resp.ID != 0 || string(resp.Result) != "1" {
		t.Fatalf("unexpected second frame: %+v", frames[1].Message)
	}
}

func TestFeedRejectsNonIntegerIDs(t *testing.T) {
	frames := NewDecoder(0).Feed([]byte("{\"id\":-1,\"result\":1}\n{\"id\":\"x\"}\n{\"id\":3}\n"))
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[0].Err == nil || frames[1].Err == nil {
		t.Fatal("expected negative and string ids to fail")
	}
	if frames[2].Err != nil {
		t.Fatalf("unexpected error %v", frames[2].Err)
	}
}

func TestFeedSkipsBlankLines(t *testing.T) {
	frames := NewDecoder(0).Feed([]byte("\n\r\n  \n{\"id\":1}\r\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Err != nil || *frames[0].Message.ID != 1 {
		t.Fatalf("unexpected frame %+v", frames[0])
	}
}

func TestFeedDropsOversizedFrameAndRecovers(t *testing.T) {
	d := NewDecoder(16)
	frames := d.Feed(bytes.Repeat([]byte("a"), 20))
	if len(frames) != 1 || !errors.Is(frames[0].Err, rpckit.ErrFrameTooLarge) {
		t.Fatalf("expected frame too large, got %+v", frames)
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected buffer dropped, got %d", d.Buffered())
	}
	frames = d.Feed([]byte("aaaa\n{\"id\":5}\n"))
	if len(frames) != 1 || frames[0].Err != nil || *frames[0].Message.ID != 5 {
		t.Fatalf("expected recovery after discarded frame, got %+v", frames)
	}

	frames = NewDecoder(16).Feed([]byte(`{"id":1,"result":"0123456789"}` + "\n"))
	if len(frames) != 1 || !errors.Is(frames[0].Err, rpckit.ErrFrameTooLarge) {
		t.Fatalf("expected complete oversized frame rejected, got %+v", frames)
	}
}

func TestEncodeAppendsSingleDelimiter(t *testing.T) {
	raw, err := Encode(models.Request{ID: 3, Method: "ping"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"id":3,"method":"ping"}`+"\n" {
		t.Fatalf("unexpected frame %q", raw)
	}

	raw, err = Encode(map[string]string{"text": "line1\nline2"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Count(raw, []byte{'\n'}) != 1 || raw[len(raw)-1] != '\n' {
		t.Fatalf("embedded newline leaked into frame %q", raw)
	}
}
