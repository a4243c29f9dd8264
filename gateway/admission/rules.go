package admission

import (
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/ghostwriter-im/ghostwriter/channel"
)

// DropRules are operator-defined CEL expressions evaluated against every
// inbound message before any other admission step. A rule that evaluates
// to true drops the message silently.
type DropRules struct {
	programs []ruleProgram
}

type ruleProgram struct {
	expr string
	prg  cel.Program
}

// CompileDropRules compiles the configured expressions once at startup.
// An expression that fails to compile is a configuration error.
func CompileDropRules(exprs []string) (*DropRules, error) {
	if len(exprs) == 0 {
		return &DropRules{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("content", cel.StringType),
		cel.Variable("contactKey", cel.StringType),
		cel.Variable("channelId", cel.StringType),
		cel.Variable("mediaType", cel.StringType),
		cel.Variable("groupChat", cel.BoolType),
		cel.Variable("fromMe", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	rules := &DropRules{}
	for _, expr := range exprs {
		celAST, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, errors.Wrapf(issues.Err(), "invalid drop rule: %s", expr)
		}
		prg, err := env.Program(celAST)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build drop rule program: %s", expr)
		}
		rules.programs = append(rules.programs, ruleProgram{expr: expr, prg: prg})
	}
	return rules, nil
}

// Match reports whether any rule drops the message. Evaluation errors
// count as no match; a broken rule must not eat traffic.
func (r *DropRules) Match(msg *channel.NormalizedMessage) (bool, string) {
	if r == nil || len(r.programs) == 0 {
		return false, ""
	}
	input := map[string]any{
		"content":    msg.Content,
		"contactKey": msg.ContactKey(),
		"channelId":  string(msg.ChannelID),
		"mediaType":  msg.MediaType.String(),
		"groupChat":  msg.GroupChat,
		"fromMe":     msg.FromMe,
	}
	for _, rule := range r.programs {
		out, _, err := rule.prg.Eval(input)
		if err != nil {
			slog.Warn("drop rule evaluation failed", "rule", rule.expr, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return true, rule.expr
		}
	}
	return false, ""
}
