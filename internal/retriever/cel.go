package retriever

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/project-kessel/userinfo/internal/claims"
	"github.com/project-kessel/userinfo/internal/grantcache"
)

// CEL evaluates an expression over the cached attributes. The expression
// must produce a map of claim name to value.
//
// Variables:
//   - attributes: remote claim URI -> raw value
//   - local: local claim URI -> raw value
//
// Functions:
//   - multi(value): a list when value holds the multi attribute separator,
//     value itself otherwise
//
// Example:
//
//	{
//	  "email": attributes["email"],
//	  "groups": multi(local["http://wso2.org/claims/groups"]),
//	  "name": attributes["given_name"] + " " + attributes["family_name"]
//	}
type CEL struct {
	script  string
	program cel.Program
}

// NewCEL compiles script
func NewCEL(script, separator string) (*CEL, error) {
	if script == "" {
		return nil, fmt.Errorf("CEL script cannot be empty")
	}
	if separator == "" {
		separator = claims.DefaultMultiAttributeSeparator
	}

	env, err := cel.NewEnv(cel.Lib(&attributeLib{separator: separator}))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(script)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL script: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &CEL{script: script, program: program}, nil
}

// Script returns the source expression
func (r *CEL) Script() string {
	return r.script
}

func (r *CEL) ClaimsMap(ctx context.Context, attrs []grantcache.Attribute) (claims.Claims, error) {
	remote := make(map[string]string, len(attrs))
	local := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Claim.RemoteClaim.URI != "" {
			remote[a.Claim.RemoteClaim.URI] = a.Value
		}
		if a.Claim.LocalClaim.URI != "" {
			local[a.Claim.LocalClaim.URI] = a.Value
		}
	}

	result, _, err := r.program.ContextEval(ctx, map[string]any{
		"attributes": remote,
		"local":      local,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	native := toNative(result)
	if native == nil {
		return nil, nil
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("CEL expression must evaluate to a map, got: %T", native)
	}
	return claims.Claims(m), nil
}

type attributeLib struct {
	separator string
}

func (lib *attributeLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("local", cel.MapType(cel.StringType, cel.StringType)),
		cel.Function("multi",
			cel.Overload("multi_string",
				[]*cel.Type{cel.StringType},
				cel.DynType,
				cel.UnaryBinding(lib.multi),
			),
		),
	}
}

func (lib *attributeLib) ProgramOptions() []cel.ProgramOption {
	return nil
}

func (lib *attributeLib) multi(arg ref.Val) ref.Val {
	s, ok := arg.Value().(string)
	if !ok {
		return types.NewErr("multi argument must be a string")
	}
	if !claims.IsMultiValued(s, lib.separator) {
		return types.String(s)
	}
	return types.DefaultTypeAdapter.NativeToValue(claims.SplitMultiValued(s, lib.separator))
}

// toNative converts a CEL value into plain Go maps, slices and scalars
func toNative(val ref.Val) any {
	switch v := val.(type) {
	case traits.Mapper:
		out := make(map[string]any)
		it := v.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.Value().(string)
			if !ok {
				continue
			}
			out[key] = toNative(v.Get(k))
		}
		return out
	case traits.Lister:
		n, _ := v.Size().Value().(int64)
		out := make([]any, 0, n)
		for i := int64(0); i < n; i++ {
			out = append(out, toNative(v.Get(types.Int(i))))
		}
		return out
	default:
		if val == types.NullValue {
			return nil
		}
		return val.Value()
	}
}
