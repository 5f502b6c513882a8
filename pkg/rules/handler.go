package rules

import (
	"context"
	"fmt"

	"github.com/goliatone/go-replica/pkg/message"
)

// Result is the data carried by a successful evaluateRule response.
type Result struct {
	Engine string `json:"engine"`
	Value  any    `json:"value"`
}

// Handler answers evaluateRule messages against the snapshot returned by
// state. Evaluation failures become failed responses.
func Handler(engines *Engines, role message.Role, state func() map[string]any) message.Handler {
	return func(ctx context.Context, msg message.Message, sender message.Sender) (message.Response, error) {
		payload, err := message.Decode(msg)
		if err != nil {
			return message.Fail(err), nil
		}
		rule, ok := payload.(message.EvaluateRule)
		if !ok {
			return message.Failf("rules: unexpected %s payload", msg.Kind), nil
		}
		name, _, err := engines.Lookup(rule.Engine)
		if err != nil {
			return message.Fail(err), nil
		}
		value, err := engines.Evaluate(Input{
			Snapshot: state(),
			Args:     rule.Args,
			Sender:   string(sender.Role),
			Role:     string(role),
		}, name, rule.Expr)
		if err != nil {
			return message.Fail(err), nil
		}
		resp, err := message.OK(fmt.Sprintf("evaluated with %s", name)).WithData(Result{Engine: name, Value: value})
		if err != nil {
			return message.Fail(err), nil
		}
		return resp, nil
	}
}
