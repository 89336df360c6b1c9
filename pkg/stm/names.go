// Package stm describes the transaction runtime that woven code calls
// into: the internal names and descriptors of the context, the delegator
// and the address resolver, the signal exception classes, and the atomic
// annotation. Bind connects those names to Go implementations inside the
// reference interpreter.
package stm

import "github.com/chazu/stmweave/pkg/bytecode"

// Runtime namespace. Classes under it are never instrumented.
const RuntimePackage = "org/deuce/"

// Transaction context.
const (
	ContextInternal = "org/deuce/transaction/Context"
	ContextDesc     = "Lorg/deuce/transaction/Context;"

	InitMethod     = "init"
	InitDesc       = "(ILjava/lang/String;)V"
	CommitMethod   = "commit"
	CommitDesc     = "()Z"
	RollbackMethod = "rollback"
	RollbackDesc   = "()V"

	// ContextLocalName names the injected context parameter in the
	// local-variable table of a woven twin.
	ContextLocalName = "__transactionContext__"
)

// Delegator: the static entry points woven code calls for every access.
const (
	DelegatorInternal = "org/deuce/transaction/ContextDelegator"

	GetInstanceMethod = "getInstance"
	GetInstanceDesc   = "()" + ContextDesc

	BeforeReadMethod  = "beforeReadAccess"
	BeforeReadDesc    = "(Ljava/lang/Object;J" + ContextDesc + ")V"
	ReadMethod        = "onReadAccess"
	WriteMethod       = "onWriteAccess"
	StaticWriteMethod = "addStaticWriteAccess"
	ArrayReadMethod   = "onArrayReadAccess"
	ArrayWriteMethod  = "onArrayWriteAccess"
)

// Address resolver, called from class initializers.
const (
	AddressUtilInternal = "org/deuce/reflection/AddressUtil"

	ResolveAddressMethod    = "resolveAddress"
	ResolveAddressDesc      = "(Ljava/lang/Class;Ljava/lang/String;)J"
	ResolveStaticBaseMethod = "resolveStaticBase"
	ResolveStaticBaseDesc   = "(Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/Object;"
)

// Signals raised by the transaction runtime.
const (
	TransactionException          = "org/deuce/transaction/TransactionException"
	AbortTransactionException     = "org/deuce/transaction/AbortTransactionException"
	RetryBudgetExhaustedException = "org/deuce/transaction/RetryBudgetExhaustedException"

	// RetryBudgetExhaustedMessage is the detail message of the fault
	// raised when an atomic method runs out of attempts.
	RetryBudgetExhaustedMessage = "Failed to commit the transaction in the defined retries."
)

// Atomic annotation.
const (
	AtomicDesc     = "Lorg/deuce/Atomic;"
	AtomicRetries  = "retries"
	AtomicMetainf  = "metainf"
	AtomicMetadata = "metadata" // accepted alias of metainf
)

// ContextType is the type of the injected context parameter.
var ContextType = bytecode.ObjectTypeOf(ContextInternal)
