package rules

import (
	"context"
	"testing"

	"github.com/goliatone/go-replica/pkg/message"
)

func TestHandlerEvaluatesAgainstState(t *testing.T) {
	handler := Handler(NewEngines(), message.RoleBackground, settingsSnapshot)

	msg, err := message.New(message.RoleUI, message.RoleBackground, message.EvaluateRule{Expr: `themeOverride == "dark" && role == "background" && sender == "ui"`})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	resp, err := handler(context.Background(), msg, message.Sender{Role: message.RoleUI})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	var result Result
	if err := resp.DecodeData(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Engine != EngineExpr || result.Value != true {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestHandlerReportsFailures(t *testing.T) {
	handler := Handler(NewEngines(), message.RoleBackground, settingsSnapshot)

	msg, _ := message.New(message.RoleUI, message.RoleBackground, message.EvaluateRule{Expr: "1", Engine: "lua"})
	resp, err := handler(context.Background(), msg, message.Sender{})
	if err != nil || resp.Success || resp.Error == "" {
		t.Fatalf("expected failed response for unknown engine, got %+v err=%v", resp, err)
	}

	broken := message.Message{Kind: message.KindEvaluateRule, Payload: []byte(`{"expr":""}`)}
	resp, err = handler(context.Background(), broken, message.Sender{})
	if err != nil || resp.Success {
		t.Fatalf("expected failed response for empty expr, got %+v err=%v", resp, err)
	}
}
