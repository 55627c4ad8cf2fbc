package backends

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// OperandKind enumerates where an operand of an Instruction comes from.
type OperandKind int

const (
	// OperandInput refers to one of the input buffers of the kernel.
	OperandInput OperandKind = iota

	// OperandLocal refers to the result of a previous instruction.
	OperandLocal

	// OperandScalar refers to one of the scalar arguments given at execution time.
	OperandScalar
)

// Operand is an operand of an instruction.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Index int          `json:"index"`
}

// String returns "i<n>", "l<n>" or "s<n>".
func (r Operand) String() string {
	switch r.Kind {
	case OperandInput:
		return fmt.Sprintf("i%d", r.Index)
	case OperandLocal:
		return fmt.Sprintf("l%d", r.Index)
	case OperandScalar:
		return fmt.Sprintf("s%d", r.Index)
	}
	return fmt.Sprintf("?%d", r.Index)
}

// Instruction computes Op over its Operands and stores the value in the local register Result.
type Instruction struct {
	Op       OpType     `json:"op"`
	Operands []Operand `json:"operands"`
	Result   int        `json:"result"`
}

// Program is the relative, shape-free description of a sequence of elementwise operations: it only refers to
// registers and dtypes, never to tensors or shapes. This is what gets compiled into a Kernel.
//
// Each instruction writes a new local register, and outputs are copies of local registers.
type Program struct {
	Inputs       []dtypes.DType `json:"inputs,omitempty"`
	Scalars      []dtypes.DType `json:"scalars,omitempty"`
	Locals       []dtypes.DType `json:"locals,omitempty"`
	Instructions []Instruction  `json:"instructions,omitempty"`
	Outputs      []int          `json:"outputs,omitempty"`
}

// AddInput appends an input with the given dtype and returns its register.
func (p *Program) AddInput(dtype dtypes.DType) Operand {
	p.Inputs = append(p.Inputs, dtype)
	return Operand{Kind: OperandInput, Index: len(p.Inputs) - 1}
}

// AddScalar appends a scalar argument with the given dtype and returns its register.
func (p *Program) AddScalar(dtype dtypes.DType) Operand {
	p.Scalars = append(p.Scalars, dtype)
	return Operand{Kind: OperandScalar, Index: len(p.Scalars) - 1}
}

// AddInstruction appends an instruction whose result has the given dtype, and returns the local register
// holding the result.
func (p *Program) AddInstruction(op OpType, dtype dtypes.DType, operands ...Operand) Operand {
	p.Locals = append(p.Locals, dtype)
	result := len(p.Locals) - 1
	p.Instructions = append(p.Instructions, Instruction{
		Op:       op,
		Operands: append([]Operand(nil), operands...),
		Result:   result,
	})
	return Operand{Kind: OperandLocal, Index: result}
}

// AddOutput marks the local register as an output of the program, and returns the output index.
func (p *Program) AddOutput(local Operand) int {
	if local.Kind != OperandLocal {
		exceptions.Panicf("Program.AddOutput(%s): only local registers can be outputs", local)
	}
	p.Outputs = append(p.Outputs, local.Index)
	return len(p.Outputs) - 1
}

// DType returns the dtype of the register, or dtypes.InvalidDType if it is out of range.
func (p *Program) DType(r Operand) dtypes.DType {
	var table []dtypes.DType
	switch r.Kind {
	case OperandInput:
		table = p.Inputs
	case OperandLocal:
		table = p.Locals
	case OperandScalar:
		table = p.Scalars
	}
	if r.Index < 0 || r.Index >= len(table) {
		return dtypes.InvalidDType
	}
	return table[r.Index]
}

// ScalarDType returns the dtype of the scalar operands of an elementwise op: the dtype of its first tensor
// operand, or the result dtype if it has no tensor operands (e.g. Full).
func ScalarDType(tensorDTypes []dtypes.DType, result dtypes.DType) dtypes.DType {
	if len(tensorDTypes) > 0 {
		return tensorDTypes[0]
	}
	return result
}

// OutputDTypes returns the dtypes of the outputs, in order.
func (p *Program) OutputDTypes() []dtypes.DType {
	result := make([]dtypes.DType, len(p.Outputs))
	for ii, local := range p.Outputs {
		result[ii] = p.Locals[local]
	}
	return result
}

// Signature is the structural form of the program: the operation sequence, operand arity and register wiring,
// and dtypes.
//
// Two programs with the same signature compile to equivalent kernels.
func (p *Program) Signature() string {
	var sb strings.Builder
	writeDTypes := func(name string, list []dtypes.DType) {
		sb.WriteString(name)
		sb.WriteByte('(')
		for ii, dtype := range list {
			if ii > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(dtype.String())
		}
		sb.WriteByte(')')
	}
	writeDTypes("in", p.Inputs)
	sb.WriteByte(' ')
	writeDTypes("sc", p.Scalars)
	sb.WriteString(" |")
	for _, inst := range p.Instructions {
		_, _ = fmt.Fprintf(&sb, " l%d:%s=%s(", inst.Result, p.Locals[inst.Result], inst.Op)
		for ii, operand := range inst.Operands {
			if ii > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(operand.String())
		}
		sb.WriteByte(')')
	}
	sb.WriteString(" | out(")
	for ii, local := range p.Outputs {
		if ii > 0 {
			sb.WriteByte(',')
		}
		_, _ = fmt.Fprintf(&sb, "l%d", local)
	}
	sb.WriteByte(')')
	return sb.String()
}

// String implements fmt.Stringer. It returns the Signature.
func (p *Program) String() string {
	return p.Signature()
}

// Validate checks that the program is well-formed: operand counts, register references (locals must be defined
// before use) and dtypes.
func (p *Program) Validate() error {
	if len(p.Instructions) != len(p.Locals) {
		return errors.Errorf("program has %d instructions but %d local registers", len(p.Instructions), len(p.Locals))
	}
	for instIdx, inst := range p.Instructions {
		if inst.Result != instIdx {
			return errors.Errorf("instruction #%d (%s) writes to local l%d, expected l%d", instIdx, inst.Op, inst.Result, instIdx)
		}
		if !inst.Op.IsElementWise() {
			return errors.Errorf("instruction #%d: op %s is not elementwise", instIdx, inst.Op)
		}
		if len(inst.Operands) != inst.Op.NumOperands() {
			return errors.Errorf("instruction #%d: op %s takes %d operands, got %d",
				instIdx, inst.Op, inst.Op.NumOperands(), len(inst.Operands))
		}
		operandDTypes := make([]dtypes.DType, len(inst.Operands))
		for ii, operand := range inst.Operands {
			if operand.Kind == OperandLocal && operand.Index >= instIdx {
				return errors.Errorf("instruction #%d: operand #%d uses local l%d before it is defined", instIdx, ii, operand.Index)
			}
			operandDTypes[ii] = p.DType(operand)
			if operandDTypes[ii] == dtypes.InvalidDType {
				return errors.Errorf("instruction #%d: operand #%d refers to invalid register %s", instIdx, ii, operand)
			}
		}
		if err := checkInstructionDTypes(inst.Op, operandDTypes, p.Locals[instIdx]); err != nil {
			return errors.WithMessagef(err, "instruction #%d", instIdx)
		}
		if inst.Op == OpTypeFull && inst.Operands[0].Kind != OperandScalar {
			return errors.Errorf("instruction #%d: op Full requires a scalar register operand, got %s", instIdx, inst.Operands[0])
		}
	}
	for ii, local := range p.Outputs {
		if local < 0 || local >= len(p.Locals) {
			return errors.Errorf("output #%d refers to invalid local l%d", ii, local)
		}
	}
	return nil
}

func checkInstructionDTypes(op OpType, operands []dtypes.DType, result dtypes.DType) error {
	switch {
	case op == OpTypeConvertDType:
		return nil
	case op.IsComparison():
		if operands[0] != operands[1] {
			return errors.Errorf("op %s: operands have different dtypes %s and %s", op, operands[0], operands[1])
		}
		if result != dtypes.Bool {
			return errors.Errorf("op %s: result must be Bool, got %s", op, result)
		}
		return nil
	}
	for ii, dtype := range operands {
		if dtype != result {
			return errors.Errorf("op %s: operand #%d has dtype %s, but result is %s", op, ii, dtype, result)
		}
	}
	return nil
}
