// Command walctl is the administrative and client CLI for a wal/crdt data
// directory: local maintenance subcommands (validate, compact, replay) run
// directly against a directory, while put/get/delete talk to a running
// walserver over RPC.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/rpc"
	"os"
	"strconv"

	"github.com/pluresdb/corelog/replay"
	"github.com/pluresdb/corelog/rpcapi"
	"github.com/pluresdb/corelog/wal"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  walctl validate <dir>\n")
	fmt.Fprintf(os.Stderr, "  walctl compact <dir> <checkpoint-seq>\n")
	fmt.Fprintf(os.Stderr, "  walctl replay <dir> [actor-filter]\n")
	fmt.Fprintf(os.Stderr, "  walctl put <addr> <actor> <id> <json-data>\n")
	fmt.Fprintf(os.Stderr, "  walctl get <addr> <id>\n")
	fmt.Fprintf(os.Stderr, "  walctl delete <addr> <actor> <id>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "validate":
		if len(os.Args) != 3 {
			usage()
		}
		runValidate(os.Args[2])
	case "compact":
		if len(os.Args) != 4 {
			usage()
		}
		runCompact(os.Args[2], os.Args[3])
	case "replay":
		dir := ""
		actor := ""
		switch len(os.Args) {
		case 3:
			dir = os.Args[2]
		case 4:
			dir, actor = os.Args[2], os.Args[3]
		default:
			usage()
		}
		runReplay(dir, actor)
	case "put":
		if len(os.Args) != 6 {
			usage()
		}
		runPut(os.Args[2], os.Args[3], os.Args[4], os.Args[5])
	case "get":
		if len(os.Args) != 4 {
			usage()
		}
		runGet(os.Args[2], os.Args[3])
	case "delete":
		if len(os.Args) != 5 {
			usage()
		}
		runDelete(os.Args[2], os.Args[3], os.Args[4])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
	}
}

func runValidate(dir string) {
	l, err := wal.Open(dir, wal.WithDurability(wal.DurabilityNone))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer l.Close()

	report, err := l.Validate()
	if err != nil {
		log.Fatalf("validate: %v", err)
	}

	fmt.Printf("segments: %d (corrupted: %d)\n", report.TotalSegments, report.CorruptedSegments)
	fmt.Printf("entries:  %d valid / %d corrupted / %d total\n",
		report.ValidEntries, report.CorruptedEntries, report.TotalEntries)
	fmt.Printf("healthy:  %v\n", report.IsHealthy())
	if !report.IsHealthy() {
		os.Exit(1)
	}
}

func runCompact(dir, checkpointStr string) {
	checkpoint, err := strconv.ParseUint(checkpointStr, 10, 64)
	if err != nil {
		log.Fatalf("checkpoint-seq: %v", err)
	}

	l, err := wal.Open(dir, wal.WithDurability(wal.DurabilityNone))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer l.Close()

	if err := l.Compact(checkpoint); err != nil {
		log.Fatalf("compact: %v", err)
	}
	fmt.Println("compaction complete")
}

func runReplay(dir, actor string) {
	state, stats, err := replay.Run(dir, actor)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Fatalf("marshal state: %v", err)
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "entries=%d puts=%d deletes=%d errors=%d success_rate=%.4f final_nodes=%d\n",
		stats.TotalEntries, stats.Puts, stats.Deletes, stats.Errors, stats.SuccessRate(), stats.FinalNodeCount)
}

func runPut(addr, actor, id, jsonData string) {
	var data any
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		log.Fatalf("json-data: %v", err)
	}

	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var reply rpcapi.PutReply
	args := rpcapi.PutArgs{Actor: actor, ID: id, Data: data}
	if err := client.Call("WAL.Put", &args, &reply); err != nil {
		log.Fatalf("put: %v", err)
	}
	fmt.Printf("ok, seq=%d\n", reply.Seq)
}

func runGet(addr, id string) {
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var reply rpcapi.GetReply
	args := rpcapi.GetArgs{ID: id}
	if err := client.Call("WAL.Get", &args, &reply); err != nil {
		log.Fatalf("get: %v", err)
	}
	if !reply.Found {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(1)
	}
	out, err := json.MarshalIndent(reply.Record, "", "  ")
	if err != nil {
		log.Fatalf("marshal record: %v", err)
	}
	fmt.Println(string(out))
}

func runDelete(addr, actor, id string) {
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()

	args := rpcapi.DeleteArgs{Actor: actor, ID: id}
	var reply struct{}
	if err := client.Call("WAL.Delete", &args, &reply); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("done")
}
