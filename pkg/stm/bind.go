package stm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/stmweave/pkg/bytecode"
)

var log = commonlog.GetLogger("stmweave.stm")

// HostContextInternal is the runtime class of context objects handed to
// woven code by Bind.
const HostContextInternal = "org/deuce/transaction/HostContext"

var (
	arrayLoads  = []bytecode.Opcode{bytecode.OpIaload, bytecode.OpLaload, bytecode.OpFaload, bytecode.OpDaload, bytecode.OpAaload, bytecode.OpBaload, bytecode.OpCaload, bytecode.OpSaload}
	arrayStores = []bytecode.Opcode{bytecode.OpIastore, bytecode.OpLastore, bytecode.OpFastore, bytecode.OpDastore, bytecode.OpAastore, bytecode.OpBastore, bytecode.OpCastore, bytecode.OpSastore}
)

// RegisterSignals declares the signal exception classes.
func RegisterSignals(vm *bytecode.VM) {
	vm.RegisterClass(TransactionException, bytecode.ClassRuntimeExc)
	vm.RegisterClass(AbortTransactionException, TransactionException)
	vm.RegisterClass(RetryBudgetExhaustedException, TransactionException)
}

// Bind installs the transaction runtime into vm. Every call of the
// delegator's getInstance obtains a context from newContext; barrier calls
// are forwarded to the context they are given. Class initializers resolve
// field addresses through resolver.
func Bind(vm *bytecode.VM, newContext func() Context, resolver AddressResolver) {
	RegisterSignals(vm)
	vm.RegisterClass(ContextInternal, bytecode.ClassObject)
	vm.RegisterClass(HostContextInternal, bytecode.ClassObject, ContextInternal)
	vm.RegisterClass(DelegatorInternal, bytecode.ClassObject)
	vm.RegisterClass(AddressUtilInternal, bytecode.ClassObject)

	vm.RegisterNative(DelegatorInternal, GetInstanceMethod, GetInstanceDesc, func(vm *bytecode.VM, _ []bytecode.Value) (bytecode.Value, error) {
		obj := vm.NewObject(HostContextInternal)
		obj.Host = newContext()
		return obj, nil
	})

	vm.RegisterNative(ContextInternal, InitMethod, InitDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		ctx, err := contextOf(args[0])
		if err != nil {
			return nil, err
		}
		meta, _ := args[2].(string)
		ctx.Init(args[1].(int32), meta)
		return nil, nil
	})
	vm.RegisterNative(ContextInternal, CommitMethod, CommitDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		ctx, err := contextOf(args[0])
		if err != nil {
			return nil, err
		}
		if ctx.Commit() {
			return int32(1), nil
		}
		return int32(0), nil
	})
	vm.RegisterNative(ContextInternal, RollbackMethod, RollbackDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		ctx, err := contextOf(args[0])
		if err != nil {
			return nil, err
		}
		ctx.Rollback()
		return nil, nil
	})

	bindBarriers(vm)

	vm.RegisterNative(AddressUtilInternal, ResolveAddressMethod, ResolveAddressDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		owner, field, err := fieldArgs(args)
		if err != nil {
			return nil, err
		}
		addr := resolver.ResolveAddress(owner, field)
		log.Debugf("address of %s.%s is %d", owner, field, addr)
		return addr, nil
	})
	vm.RegisterNative(AddressUtilInternal, ResolveStaticBaseMethod, ResolveStaticBaseDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		owner, field, err := fieldArgs(args)
		if err != nil {
			return nil, err
		}
		return resolver.ResolveStaticBase(owner, field), nil
	})
}

func bindBarriers(vm *bytecode.VM) {
	vm.RegisterNative(DelegatorInternal, BeforeReadMethod, BeforeReadDesc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
		ctx, err := contextOf(args[2])
		if err != nil {
			return nil, err
		}
		return nil, ctx.BeforeRead(args[0], args[1].(int64))
	})

	for _, c := range Categories {
		t := bytecode.MustParseType(c)
		vm.RegisterNative(DelegatorInternal, ReadMethod, ReadDesc(t), func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
			ctx, err := contextOf(args[3])
			if err != nil {
				return nil, err
			}
			return ctx.Read(args[0], args[1], args[2].(int64))
		})
		vm.RegisterNative(DelegatorInternal, WriteMethod, WriteDesc(t), func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
			ctx, err := contextOf(args[3])
			if err != nil {
				return nil, err
			}
			return nil, ctx.Write(args[0], args[1], args[2].(int64))
		})
		vm.RegisterNative(DelegatorInternal, StaticWriteMethod, StaticWriteDesc(t), func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
			ctx, err := contextOf(args[3])
			if err != nil {
				return nil, err
			}
			return nil, ctx.StaticWrite(args[0], args[1], args[2].(int64))
		})
	}

	// Boolean and byte arrays share a descriptor; registering both is
	// harmless.
	for _, op := range arrayLoads {
		desc, _ := ArrayReadDesc(op)
		vm.RegisterNative(DelegatorInternal, ArrayReadMethod, desc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
			ctx, err := contextOf(args[2])
			if err != nil {
				return nil, err
			}
			arr, _ := args[0].(*bytecode.Array)
			return ctx.ArrayRead(arr, args[1].(int32))
		})
	}
	for _, op := range arrayStores {
		desc, _ := ArrayWriteDesc(op)
		vm.RegisterNative(DelegatorInternal, ArrayWriteMethod, desc, func(_ *bytecode.VM, args []bytecode.Value) (bytecode.Value, error) {
			ctx, err := contextOf(args[3])
			if err != nil {
				return nil, err
			}
			arr, _ := args[0].(*bytecode.Array)
			return nil, ctx.ArrayWrite(arr, args[1].(int32), args[2])
		})
	}
}

func contextOf(v bytecode.Value) (Context, error) {
	obj, ok := v.(*bytecode.Object)
	if !ok || obj == nil {
		return nil, fmt.Errorf("stm: %T is not a transaction context", v)
	}
	ctx, ok := obj.Host.(Context)
	if !ok {
		return nil, fmt.Errorf("stm: %s carries no transaction context", obj.Class)
	}
	return ctx, nil
}

func fieldArgs(args []bytecode.Value) (string, string, error) {
	cls, ok := args[0].(*bytecode.ClassRef)
	if !ok {
		return "", "", fmt.Errorf("stm: address owner %T is not a class", args[0])
	}
	field, ok := args[1].(string)
	if !ok {
		return "", "", fmt.Errorf("stm: address field %T is not a string", args[1])
	}
	return cls.Name, field, nil
}
