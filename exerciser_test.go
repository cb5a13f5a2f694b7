package aetree

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
	"github.com/stretchr/testify/assert"
)

// expected is the model: the rows each replica should hold.
type expected struct {
	entries [2]map[uint]uint
}

func (e *expected) with(replica int, f func(map[uint]uint)) *expected {
	next := &expected{}
	for i := range e.entries {
		next.entries[i] = make(map[uint]uint, len(e.entries[i]))
		for k, v := range e.entries[i] {
			next.entries[i][k] = v
		}
	}
	if replica >= 0 {
		f(next.entries[replica])
	}
	return next
}

type system struct {
	trees    [2]*MerkleTree
	stores   [2]Persist
	cmdCount int
}

const uimax = 127

var (
	cmdCount    = 0
	repairCount = 0
	debug       = false
)

func progress(i interface{}) {
	if debug {
		fmt.Printf("%v\n", i)
	}
}

func rowName(key uint) string {
	return IntToken(key).String()
}

func rowValue(value uint) []byte {
	return []byte(fmt.Sprint(value))
}

type insertCommand struct {
	Replica int
	Key     uint
	Value   uint
}

func (c insertCommand) Run(s commands.SystemUnderTest) commands.Result {
	sys := s.(*system)
	sys.cmdCount++
	if err := sys.stores[c.Replica].Store(ctx, rowName(c.Key), rowValue(c.Value)); err != nil {
		return err
	}
	return sys.trees[c.Replica].Insert(IntToken(c.Key), rowValue(c.Value))
}

func (c insertCommand) NextState(state commands.State) commands.State {
	return state.(*expected).with(c.Replica, func(m map[uint]uint) { m[c.Key] = c.Value })
}

func (c insertCommand) PreCondition(state commands.State) bool { return true }

func (c insertCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	if result != nil {
		fmt.Printf("insert PostCondition: %v\n", result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	progress(c)
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (c insertCommand) String() string {
	return fmt.Sprintf("Insert(%d, %d, %d)", c.Replica, c.Key, c.Value)
}

type removeCommand struct {
	Replica int
	Key     uint
}

func (c removeCommand) Run(s commands.SystemUnderTest) commands.Result {
	sys := s.(*system)
	sys.cmdCount++
	if err := sys.stores[c.Replica].Delete(ctx, rowName(c.Key)); err != nil {
		return err
	}
	return sys.trees[c.Replica].Remove(IntToken(c.Key))
}

func (c removeCommand) NextState(state commands.State) commands.State {
	return state.(*expected).with(c.Replica, func(m map[uint]uint) { delete(m, c.Key) })
}

func (c removeCommand) PreCondition(state commands.State) bool { return true }

func (c removeCommand) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	if result != nil {
		fmt.Printf("remove PostCondition: %v\n", result)
		return &gopter.PropResult{Status: gopter.PropFalse}
	}
	progress(c)
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (c removeCommand) String() string {
	return fmt.Sprintf("Remove(%d, %d)", c.Replica, c.Key)
}

var DiffCommand = &commands.ProtoCommand{
	Name: "Diff",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		sys := s.(*system)
		sys.cmdCount++
		diffs, err := sys.trees[0].Difference(ctx, sys.trees[1])
		if err != nil {
			return err
		}
		return diffs
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		diffs, ok := result.([]Range)
		if !ok {
			fmt.Printf("diff PostCondition: %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		e := state.(*expected)
		for k := uint(0); k <= uimax; k++ {
			va, inA := e.entries[0][k]
			vb, inB := e.entries[1][k]
			differs := inA != inB || va != vb
			covered := false
			for _, d := range diffs {
				if d.Contains(IntToken(k)) {
					covered = true
				}
			}
			if differs != covered {
				fmt.Printf("diff PostCondition: key %d differs=%v covered=%v in %v\n", k, differs, covered, diffs)
				return &gopter.PropResult{Status: gopter.PropFalse}
			}
		}
		progress("Diff")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

// RepairCommand copies replica 0 over replica 1 through the reported ranges.
var RepairCommand = &commands.ProtoCommand{
	Name: "Repair",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		sys := s.(*system)
		sys.cmdCount++
		diffs, err := sys.trees[0].Difference(ctx, sys.trees[1])
		if err != nil {
			return err
		}
		if len(diffs) > 0 {
			repairCount++
		}
		_, err = Repair(ctx, diffs, sys.stores[0], sys.stores[1], nil, sys.trees[1])
		if err != nil {
			return err
		}
		after, err := sys.trees[0].Difference(ctx, sys.trees[1])
		if err != nil {
			return err
		}
		return after
	},
	NextStateFunc: func(state commands.State) commands.State {
		prev := state.(*expected)
		next := prev.with(-1, nil)
		next.entries[1] = prev.with(-1, nil).entries[0]
		return next
	},
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		after, ok := result.([]Range)
		if !ok || len(after) != 0 {
			fmt.Printf("repair PostCondition: %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		progress("Repair")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

// RebuildCommand checks that replica 1's tree still matches a tree built
// from scratch over its store.
var RebuildCommand = &commands.ProtoCommand{
	Name: "Rebuild",
	RunFunc: func(s commands.SystemUnderTest) commands.Result {
		sys := s.(*system)
		sys.cmdCount++
		fresh, err := New(sys.trees[1].Range(), nil)
		if err != nil {
			return err
		}
		if err := fresh.Build(ctx); err != nil {
			return err
		}
		if err := fresh.InsertFrom(ctx, PersistRows(sys.stores[1], nil)); err != nil {
			return err
		}
		diffs, err := fresh.Difference(ctx, sys.trees[1])
		if err != nil {
			return err
		}
		return diffs
	},
	NextStateFunc:    func(state commands.State) commands.State { return state },
	PreConditionFunc: func(state commands.State) bool { return true },
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		diffs, ok := result.([]Range)
		if !ok || len(diffs) != 0 {
			fmt.Printf("rebuild PostCondition: %v\n", result)
			return &gopter.PropResult{Status: gopter.PropFalse}
		}
		progress("Rebuild")
		return &gopter.PropResult{Status: gopter.PropTrue}
	},
}

var genInsert = gen.Struct(reflect.TypeOf(insertCommand{}), map[string]gopter.Gen{
	"Replica": gen.IntRange(0, 1),
	"Key":     gen.UIntRange(0, uimax),
	"Value":   gen.UIntRange(0, uimax),
}).Map(func(c insertCommand) commands.Command { return c })

var genRemove = gen.Struct(reflect.TypeOf(removeCommand{}), map[string]gopter.Gen{
	"Replica": gen.IntRange(0, 1),
	"Key":     gen.UIntRange(0, uimax),
}).Map(func(c removeCommand) commands.Command { return c })

var replicaCommands = &commands.ProtoCommands{
	NewSystemUnderTestFunc: func(initialState commands.State) commands.SystemUnderTest {
		sys := &system{}
		for i := range sys.trees {
			tree, err := New(Range{IntToken(0), IntToken(uimax)}, &Config{Concurrency: 1 + 3*i})
			if err != nil {
				return err
			}
			if err := tree.Build(ctx); err != nil {
				return err
			}
			sys.trees[i] = tree
			sys.stores[i] = NewInMemoryStore()
			for key, value := range initialState.(*expected).entries[i] {
				if err := sys.stores[i].Store(ctx, rowName(key), rowValue(value)); err != nil {
					return err
				}
				if err := tree.Insert(IntToken(key), rowValue(value)); err != nil {
					return err
				}
			}
		}
		progress("NewSystem")
		return sys
	},
	DestroySystemUnderTestFunc: func(s commands.SystemUnderTest) {
		cmdCount += s.(*system).cmdCount
	},
	InitialStateGen: gopter.CombineGens(
		gen.MapOf(gen.UIntRange(0, uimax), gen.UIntRange(0, uimax)),
		gen.MapOf(gen.UIntRange(0, uimax), gen.UIntRange(0, uimax)),
	).Map(func(values []interface{}) *expected {
		return &expected{entries: [2]map[uint]uint{
			values[0].(map[uint]uint),
			values[1].(map[uint]uint),
		}}
	}),
	InitialPreConditionFunc: func(state commands.State) bool {
		_ = state.(*expected)
		return true
	},
	GenCommandFunc: func(state commands.State) gopter.Gen {
		return gen.Weighted(
			[]gen.WeightedGen{
				{Weight: 100, Gen: genInsert},
				{Weight: 30, Gen: genRemove},
				{Weight: 20, Gen: gen.Const(DiffCommand)},
				{Weight: 5, Gen: gen.Const(RepairCommand)},
				{Weight: 5, Gen: gen.Const(RebuildCommand)},
			},
		)
	},
}

func TestExerciser(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	if !testing.Short() {
		parameters.MaxSize = 512
	}
	properties := gopter.NewProperties(parameters)
	properties.Property("replica exerciser", commands.Prop(replicaCommands))
	properties.TestingRun(t)
	if !t.Failed() {
		assert.Greater(t, repairCount, 0)
		fmt.Printf("successful commands: %d, repairs: %d\n", cmdCount, repairCount)
	}
}
