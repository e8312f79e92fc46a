package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/internal/logging"
	"github.com/wippyai/wasm-sandbox/wast"
)

// Driver interprets parsed test-script commands against a wazero
// runtime: modules are compiled and instantiated, actions run, and
// assertion commands verified.
type Driver struct {
	rt wazero.Runtime

	// instances by internal $name; "" tracks the most recent module.
	instances map[string]api.Module
	compiled  map[string]wazero.CompiledModule
	last      api.Module
	lastCode  wazero.CompiledModule

	anonCount int
}

// Result is the outcome of one command.
type Result struct {
	Command  wast.Command
	Err      error
	Skipped  bool
	Duration time.Duration // benchmark commands only
}

// Summary tallies a command run.
type Summary struct {
	Passed  int
	Failed  int
	Skipped int
}

// Summarize folds results into pass/fail/skip counts.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch {
		case r.Skipped:
			s.Skipped++
		case r.Err != nil:
			s.Failed++
		default:
			s.Passed++
		}
	}
	return s
}

// NewDriver builds a driver with a fresh wazero runtime.
func NewDriver(ctx context.Context) *Driver {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	return &Driver{
		rt:        wazero.NewRuntimeWithConfig(ctx, cfg),
		instances: make(map[string]api.Module),
		compiled:  make(map[string]wazero.CompiledModule),
	}
}

// Close releases the runtime and all instances.
func (d *Driver) Close(ctx context.Context) error {
	return d.rt.Close(ctx)
}

// RunScript parses and runs a whole script.
func (d *Driver) RunScript(ctx context.Context, source string) ([]Result, []wast.Error) {
	commands, errs := wast.ParseScript(source)
	if len(errs) > 0 {
		return nil, errs
	}
	return d.Run(ctx, commands), nil
}

// Run executes commands in order.
func (d *Driver) Run(ctx context.Context, commands []wast.Command) []Result {
	results := make([]Result, 0, len(commands))
	for _, cmd := range commands {
		results = append(results, d.runCommand(ctx, cmd))
	}
	return results
}

func (d *Driver) runCommand(ctx context.Context, cmd wast.Command) Result {
	res := Result{Command: cmd}

	switch c := cmd.(type) {
	case *wast.ActionCommand:
		_, err := d.runAction(ctx, c.Action)
		res.Err = err

	case *wast.RegisterCommand:
		res.Err = d.register(ctx, c)

	case *wast.AssertReturnCommand:
		got, err := d.runAction(ctx, c.Action)
		if err != nil {
			res.Err = err
			break
		}
		res.Err = compareResults(c.Expected, got)

	case *wast.AssertReturnNaNCommand:
		// Only scalar NaN results are checked; the vector (f32x4, f64x2)
		// forms are reported as skipped, never failed.
		if c.Kind != wast.NaNCanonical && c.Kind != wast.NaNArithmetic {
			res.Skipped = true
			break
		}
		got, err := d.runAction(ctx, c.Action)
		if err != nil {
			res.Err = err
			break
		}
		res.Err = checkNaN(c.Kind, got)

	case *wast.AssertReturnFuncCommand:
		res.Err = d.assertReturnFunc(ctx, c)

	case *wast.AssertTrapCommand:
		_, err := d.runAction(ctx, c.Action)
		if err == nil {
			res.Err = fmt.Errorf("expected trap %q but the action succeeded", c.ExpectedType)
			break
		}
		got, ok := classifyTrap(err)
		if !ok {
			res.Err = fmt.Errorf("expected trap %q, got unclassifiable error: %v", c.ExpectedType, err)
			break
		}
		if got != c.ExpectedType {
			res.Err = fmt.Errorf("expected trap %q, got %q (%v)", c.ExpectedType, got, err)
		}

	case *wast.AssertThrowsCommand:
		// Exception handling is parsed but not executed: the engine
		// does not run the exception-handling proposal, so throw
		// assertions are reported as skipped, never failed.
		res.Skipped = true

	case *wast.AssertUnlinkableCommand:
		err := d.instantiate(ctx, c.ModuleAction)
		if err == nil {
			res.Err = fmt.Errorf("expected link failure but instantiation succeeded")
		}

	case *wast.AssertInvalidOrMalformedCommand:
		if c.Actual != c.Expected {
			res.Err = fmt.Errorf("module is %s, expected %s", c.Actual, c.Expected)
		}

	case *wast.BenchmarkCommand:
		start := time.Now()
		_, err := d.runAction(ctx, c.InvokeAction)
		res.Duration = time.Since(start)
		res.Err = err

	default:
		res.Err = fmt.Errorf("unhandled command %T", cmd)
	}

	if res.Err != nil {
		fields := append([]zap.Field{
			zap.String("locus", cmd.CommandLocus().String()),
		}, logging.Err(res.Err)...)
		logging.Logger().Warn("command failed", fields...)
	} else {
		logging.Debugf("command ok at %s", cmd.CommandLocus())
	}
	return res
}

func (d *Driver) runAction(ctx context.Context, action wast.Action) ([]wast.Value, error) {
	switch a := action.(type) {
	case *wast.ModuleAction:
		return nil, d.instantiate(ctx, a)
	case *wast.InvokeAction:
		return d.invoke(ctx, a)
	case *wast.GetAction:
		return d.get(a)
	}
	return nil, fmt.Errorf("unhandled action %T", action)
}

func (d *Driver) instantiate(ctx context.Context, a *wast.ModuleAction) error {
	if a.Module == nil {
		return errors.NotInitialized(errors.PhaseDriver, "module")
	}

	code, err := d.rt.CompileModule(ctx, a.Module.Encode())
	if err != nil {
		return errors.Wrap(errors.PhaseDriver, errors.KindInstantiation, err, "compile module")
	}

	name := a.ModuleName
	cfgName := name
	if cfgName == "" {
		// wazero requires distinct names for anonymous modules.
		d.anonCount++
		cfgName = fmt.Sprintf("$anon%d", d.anonCount)
	}

	inst, err := d.rt.InstantiateModule(ctx, code, wazero.NewModuleConfig().WithName(cfgName))
	if err != nil {
		return errors.Instantiation(err)
	}

	if name != "" {
		d.instances[name] = inst
		d.compiled[name] = code
	}
	d.last = inst
	d.lastCode = code
	return nil
}

// register re-publishes a module's exports under a host-visible name
// so later modules can import from it. The compiled module is
// re-instantiated under the registered name.
func (d *Driver) register(ctx context.Context, c *wast.RegisterCommand) error {
	code := d.lastCode
	if c.InternalName != "" {
		code = d.compiled[c.InternalName]
	}
	if code == nil {
		return errors.NotFound(errors.PhaseDriver, "module", c.InternalName)
	}

	inst, err := d.rt.InstantiateModule(ctx, code,
		wazero.NewModuleConfig().WithName(c.ModuleName))
	if err != nil {
		return errors.Instantiation(err)
	}
	d.instances[c.ModuleName] = inst
	return nil
}

func (d *Driver) lookupInstance(name string) (api.Module, error) {
	if name == "" {
		if d.last == nil {
			return nil, errors.NotInitialized(errors.PhaseDriver, "module")
		}
		return d.last, nil
	}
	inst, ok := d.instances[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseDriver, "module", name)
	}
	return inst, nil
}

func (d *Driver) invoke(ctx context.Context, a *wast.InvokeAction) ([]wast.Value, error) {
	inst, err := d.lookupInstance(a.ModuleName)
	if err != nil {
		return nil, err
	}
	fn := inst.ExportedFunction(a.ExportName)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseDriver, "exported function", a.ExportName)
	}

	params := make([]uint64, 0, len(a.Arguments))
	for _, arg := range a.Arguments {
		switch arg.Type {
		case wast.TypeI32, wast.TypeI64, wast.TypeF32, wast.TypeF64:
			params = append(params, arg.Bits)
		default:
			return nil, errors.Unsupported(errors.PhaseDriver,
				fmt.Sprintf("%s argument", arg.Type))
		}
	}

	raw, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}

	types := fn.Definition().ResultTypes()
	values := make([]wast.Value, 0, len(raw))
	for i, bits := range raw {
		values = append(values, valueFromBits(types, i, bits))
	}
	return values, nil
}

// valueTypeFuncref is funcref's binary encoding; the engine API only
// names the externref constant.
const valueTypeFuncref = api.ValueType(0x70)

func isRefType(t api.ValueType) bool {
	return t == valueTypeFuncref || t == api.ValueTypeExternref
}

// assertReturnFunc checks that the action yields a single non-null
// function reference. The declared result type is checked against the
// export's signature, and the returned reference must not be null
// (references are opaque but null is always the zero encoding).
func (d *Driver) assertReturnFunc(ctx context.Context, c *wast.AssertReturnFuncCommand) error {
	switch a := c.Action.(type) {
	case *wast.InvokeAction:
		inst, err := d.lookupInstance(a.ModuleName)
		if err != nil {
			return err
		}
		fn := inst.ExportedFunction(a.ExportName)
		if fn == nil {
			return errors.NotFound(errors.PhaseDriver, "exported function", a.ExportName)
		}
		types := fn.Definition().ResultTypes()
		if len(types) != 1 || !isRefType(types[0]) {
			return fmt.Errorf("%q does not return a single function reference", a.ExportName)
		}
		got, err := d.invoke(ctx, a)
		if err != nil {
			return err
		}
		if len(got) != 1 {
			return fmt.Errorf("expected a single result, got %d", len(got))
		}
		if got[0].Bits == 0 {
			return fmt.Errorf("expected a function, got a null reference")
		}
		return nil

	case *wast.GetAction:
		inst, err := d.lookupInstance(a.ModuleName)
		if err != nil {
			return err
		}
		g := inst.ExportedGlobal(a.ExportName)
		if g == nil {
			return errors.NotFound(errors.PhaseDriver, "exported global", a.ExportName)
		}
		if !isRefType(g.Type()) {
			return fmt.Errorf("global %q is not a function reference", a.ExportName)
		}
		if g.Get() == 0 {
			return fmt.Errorf("expected a function, got a null reference")
		}
		return nil
	}
	return fmt.Errorf("assert_return_func needs an invoke or get action, got %T", c.Action)
}

func (d *Driver) get(a *wast.GetAction) ([]wast.Value, error) {
	inst, err := d.lookupInstance(a.ModuleName)
	if err != nil {
		return nil, err
	}
	g := inst.ExportedGlobal(a.ExportName)
	if g == nil {
		return nil, errors.NotFound(errors.PhaseDriver, "exported global", a.ExportName)
	}

	bits := g.Get()
	switch g.Type() {
	case api.ValueTypeI32:
		return []wast.Value{wast.I32Value(uint32(bits))}, nil
	case api.ValueTypeI64:
		return []wast.Value{wast.I64Value(bits)}, nil
	case api.ValueTypeF32:
		return []wast.Value{{Type: wast.TypeF32, Bits: bits}}, nil
	case api.ValueTypeF64:
		return []wast.Value{{Type: wast.TypeF64, Bits: bits}}, nil
	}
	return nil, errors.Unsupported(errors.PhaseDriver, "global type")
}

func valueFromBits(types []api.ValueType, i int, bits uint64) wast.Value {
	if i < len(types) {
		switch types[i] {
		case api.ValueTypeI32:
			return wast.I32Value(uint32(bits))
		case api.ValueTypeF32:
			return wast.Value{Type: wast.TypeF32, Bits: bits & 0xFFFF_FFFF}
		case api.ValueTypeF64:
			return wast.Value{Type: wast.TypeF64, Bits: bits}
		}
	}
	return wast.I64Value(bits)
}

func compareResults(expected, got []wast.Value) error {
	if len(expected) != len(got) {
		return fmt.Errorf("expected %d results, got %d", len(expected), len(got))
	}
	for i := range expected {
		e, g := expected[i], got[i]
		switch e.Type {
		case wast.TypeI32:
			if e.I32() != g.I32() {
				return fmt.Errorf("result %d: expected i32 %d, got %d", i, e.I32(), g.I32())
			}
		case wast.TypeI64:
			if e.I64() != g.I64() {
				return fmt.Errorf("result %d: expected i64 %d, got %d", i, e.I64(), g.I64())
			}
		case wast.TypeF32:
			if uint32(e.Bits) != uint32(g.Bits) {
				return fmt.Errorf("result %d: expected f32 bits %08x, got %08x", i, uint32(e.Bits), uint32(g.Bits))
			}
		case wast.TypeF64:
			if e.Bits != g.Bits {
				return fmt.Errorf("result %d: expected f64 bits %016x, got %016x", i, e.Bits, g.Bits)
			}
		default:
			return errors.Unsupported(errors.PhaseDriver,
				fmt.Sprintf("%s expected value", e.Type))
		}
	}
	return nil
}

func checkNaN(kind wast.NaNCheckKind, got []wast.Value) error {
	if len(got) != 1 {
		return fmt.Errorf("expected a single NaN result, got %d values", len(got))
	}
	v := got[0]
	switch kind {
	case wast.NaNCanonical, wast.NaNArithmetic:
		switch v.Type {
		case wast.TypeF32:
			if !math.IsNaN(float64(v.F32())) {
				return fmt.Errorf("expected f32 NaN, got %g", v.F32())
			}
		case wast.TypeF64:
			if !math.IsNaN(v.F64()) {
				return fmt.Errorf("expected f64 NaN, got %g", v.F64())
			}
		default:
			return fmt.Errorf("expected float result, got %s", v.Type)
		}
		return nil
	default:
		return errors.Unsupported(errors.PhaseDriver, "vector NaN check")
	}
}

// classifyTrap maps an execution error onto the script trap taxonomy.
// The engine's own messages are tried against the standard
// descriptions first, then against engine-specific spellings.
func classifyTrap(err error) (wast.ExpectedTrapType, bool) {
	msg := err.Error()
	if idx := strings.Index(msg, "wasm error: "); idx >= 0 {
		msg = msg[idx+len("wasm error: "):]
	}
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = msg[:nl]
	}

	if t, ok := wast.TrapTypeForDescription(msg); ok {
		return t, ok
	}

	switch {
	case strings.Contains(msg, "divide by zero"), strings.Contains(msg, "integer overflow"):
		return wast.TrapIntegerDivideByZeroOrIntegerOverflow, true
	case strings.Contains(msg, "invalid conversion to integer"):
		return wast.TrapInvalidFloatOperation, true
	case strings.Contains(msg, "unreachable"):
		return wast.TrapReachedUnreachable, true
	case strings.Contains(msg, "indirect call type mismatch"):
		return wast.TrapIndirectCallSignatureMismatch, true
	case strings.Contains(msg, "invalid table access"):
		return wast.TrapOutOfBoundsTableAccess, true
	case strings.Contains(msg, "out of bounds memory"):
		return wast.TrapOutOfBoundsMemoryAccess, true
	case strings.Contains(msg, "stack overflow"), strings.Contains(msg, "call stack exhausted"):
		return wast.TrapStackOverflow, true
	case strings.Contains(msg, "unaligned atomic"):
		return wast.TrapMisalignedAtomicMemoryAccess, true
	}
	return 0, false
}

// Compile exposes the driver's module pipeline for callers that only
// need bytes: text to validated binary.
func Compile(source string) ([]byte, error) {
	m, errs := wast.DefaultModuleParser.ParseText(source)
	if len(errs) > 0 {
		msg := errs[0].Message
		if strings.HasPrefix(msg, "validation error") {
			return nil, errors.Invalid(errors.PhaseValidate, msg, nil)
		}
		return nil, errors.Malformed(errors.PhaseParse, msg, nil)
	}
	return m.Encode(), nil
}
