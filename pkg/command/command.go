// Package command implements the dispatch pipeline that turns a decoded
// top-level Array frame into a typed, validated Command and executes it
// against the shared backend store.
//
// TryParse only ever looks at an Array frame (anything else is an
// InvalidCommand); it reads the first element as the verb (a
// case-insensitive SimpleString or BulkString) and hands the remaining
// elements to a per-verb argument parser. An unrecognized verb parses to
// Unrecognized, which executes to the canonical "+OK\r\n" so that liveness
// probes against unimplemented commands don't look like failures.
package command

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/IceFireDB/respkv/pkg/backend"
	"github.com/IceFireDB/respkv/pkg/resp"
)

// Verb identifies which command variant a Command holds.
type Verb int

const (
	Get Verb = iota
	Set
	HGet
	HSet
	HMGet
	SAdd
	SIsMember
	Echo
	Del
	Type
	Unrecognized
)

// Command is a tagged union over the supported verbs. Each variant carries
// its parsed, validated arguments as owned values with no reference back to
// the source Array frame.
type Command struct {
	Verb Verb

	Key    string
	Field  string
	Fields []string

	Member  string
	Members []string

	Value resp.Frame
}

// ErrorKind classifies the ways a command can fail to parse or execute.
type ErrorKind int

const (
	// KindNotEqualCommand is a dispatch-internal mismatch (the frame's
	// verb didn't match the parser being tried); it never reaches a
	// client because TryParse dispatches by verb up front.
	KindNotEqualCommand ErrorKind = iota
	// KindInvalidCommand covers arity and shape errors.
	KindInvalidCommand
	// KindInvalidArgument covers a well-shaped but wrongly-typed
	// argument (e.g. a Map passed where a stringifiable key was
	// required).
	KindInvalidArgument
	// KindUnexpected covers anything else.
	KindUnexpected
)

// Error is the error type for every TryParse/Execute failure. It is
// serialized to the client as a SimpleError("Command Err: …") response;
// the connection is not closed.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func invalidCommand(format string, args ...any) error {
	return errors.WithStack(&Error{Kind: KindInvalidCommand, Msg: fmt.Sprintf(format, args...)})
}

func invalidArgument(msg string) error {
	return errors.WithStack(&Error{Kind: KindInvalidArgument, Msg: msg})
}

// AsCommandError unwraps err (which may carry an errors.WithStack
// annotation) down to the underlying *Error, if any.
func AsCommandError(err error) (*Error, bool) {
	var ce *Error
	ok := errors.As(err, &ce)
	return ce, ok
}

// TryParse validates frame as a command invocation and returns its typed,
// owned representation.
func TryParse(frame resp.Frame) (Command, error) {
	if frame.Kind != resp.Array || frame.ArrayNull {
		return Command{}, invalidCommand("expected an array frame")
	}
	elems := frame.Array
	if len(elems) == 0 {
		return Command{}, invalidCommand("empty command")
	}

	verb, ok := stringify(elems[0])
	if !ok {
		return Command{}, invalidArgument("command name must be a simple string or bulk string")
	}
	args := elems[1:]

	switch strings.ToLower(verb) {
	case "get":
		return parseGet(args)
	case "set":
		return parseSet(args)
	case "hget":
		return parseHGet(args)
	case "hset":
		return parseHSet(args)
	case "hmget":
		return parseHMGet(args)
	case "sadd":
		return parseSAdd(args)
	case "sismember":
		return parseSIsMember(args)
	case "echo":
		return parseEcho(args)
	case "del":
		return parseDel(args)
	case "type":
		return parseType(args)
	default:
		return Command{Verb: Unrecognized}, nil
	}
}

// stringify converts a SimpleString or a non-null BulkString to a UTF-8
// string. Any other frame kind is not stringifiable.
func stringify(f resp.Frame) (string, bool) {
	switch {
	case f.Kind == resp.SimpleString:
		return f.Str, true
	case f.Kind == resp.BulkString && !f.BulkNull:
		return string(f.Bulk), true
	default:
		return "", false
	}
}

func checkArity(args []resp.Frame, want int) error {
	if len(args) != want {
		return invalidCommand("Command args not equal, expect: %d, got: %d", want, len(args))
	}
	return nil
}

func parseGet(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 1); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("GET key must be stringifiable")
	}
	return Command{Verb: Get, Key: key}, nil
}

func parseSet(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 2); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("SET key must be stringifiable")
	}
	return Command{Verb: Set, Key: key, Value: args[1]}, nil
}

func parseHGet(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 2); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("HGET key must be stringifiable")
	}
	field, ok := stringify(args[1])
	if !ok {
		return Command{}, invalidArgument("HGET field must be stringifiable")
	}
	return Command{Verb: HGet, Key: key, Field: field}, nil
}

func parseHSet(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 3); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("HSET key must be stringifiable")
	}
	field, ok := stringify(args[1])
	if !ok {
		return Command{}, invalidArgument("HSET field must be stringifiable")
	}
	return Command{Verb: HSet, Key: key, Field: field, Value: args[2]}, nil
}

func parseHMGet(args []resp.Frame) (Command, error) {
	if len(args) < 2 {
		return Command{}, invalidCommand("Command args not equal, expect: >=2, got: %d", len(args))
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("HMGET key must be stringifiable")
	}
	fields := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		field, ok := stringify(a)
		if !ok {
			return Command{}, invalidArgument("HMGET field must be stringifiable")
		}
		fields = append(fields, field)
	}
	return Command{Verb: HMGet, Key: key, Fields: fields}, nil
}

func parseSAdd(args []resp.Frame) (Command, error) {
	if len(args) < 2 {
		return Command{}, invalidCommand("Command args not equal, expect: >=2, got: %d", len(args))
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("SADD key must be stringifiable")
	}
	members := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		member, ok := stringify(a)
		if !ok {
			return Command{}, invalidArgument("SADD member must be stringifiable")
		}
		members = append(members, member)
	}
	return Command{Verb: SAdd, Key: key, Members: members}, nil
}

func parseSIsMember(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 2); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("SISMEMBER key must be stringifiable")
	}
	member, ok := stringify(args[1])
	if !ok {
		return Command{}, invalidArgument("SISMEMBER member must be stringifiable")
	}
	return Command{Verb: SIsMember, Key: key, Member: member}, nil
}

func parseEcho(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 1); err != nil {
		return Command{}, err
	}
	return Command{Verb: Echo, Value: args[0]}, nil
}

func parseDel(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 1); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("DEL key must be stringifiable")
	}
	return Command{Verb: Del, Key: key}, nil
}

func parseType(args []resp.Frame) (Command, error) {
	if err := checkArity(args, 1); err != nil {
		return Command{}, err
	}
	key, ok := stringify(args[0])
	if !ok {
		return Command{}, invalidArgument("TYPE key must be stringifiable")
	}
	return Command{Verb: Type, Key: key}, nil
}

// Execute runs cmd against store and produces the response frame. It never
// fails: by the time a Command reaches Execute it has already been
// validated by TryParse.
func Execute(cmd Command, store *backend.Store) resp.Frame {
	switch cmd.Verb {
	case Get:
		if v, ok := store.Get(cmd.Key); ok {
			return v
		}
		return resp.NewNull()
	case Set:
		store.Set(cmd.Key, cmd.Value)
		return resp.NewSimpleString("OK")
	case HGet:
		if v, ok := store.HGet(cmd.Key, cmd.Field); ok {
			return v
		}
		return resp.NewNull()
	case HSet:
		store.HSet(cmd.Key, cmd.Field, cmd.Value)
		return resp.NewSimpleString("OK")
	case HMGet:
		results := make([]resp.Frame, len(cmd.Fields))
		for i, field := range cmd.Fields {
			if v, ok := store.HGet(cmd.Key, field); ok {
				results[i] = v
			} else {
				results[i] = resp.NewNull()
			}
		}
		return resp.NewArray(results)
	case SAdd:
		var added int64
		for _, member := range cmd.Members {
			if store.SAdd(cmd.Key, member) {
				added++
			}
		}
		return resp.NewInteger(added)
	case SIsMember:
		if store.SIsMember(cmd.Key, cmd.Member) {
			return resp.NewInteger(1)
		}
		return resp.NewInteger(0)
	case Echo:
		return cmd.Value
	case Del:
		if store.Del(cmd.Key) {
			return resp.NewInteger(1)
		}
		return resp.NewInteger(0)
	case Type:
		return resp.NewSimpleString(string(store.Type(cmd.Key)))
	case Unrecognized:
		return resp.NewSimpleString("OK")
	default:
		return resp.NewError("Command Err: unknown command verb")
	}
}
