// Command checkpointctl inspects and maintains workflow threads in a
// checkpoint store.
//
//	checkpointctl threads ls
//	checkpointctl threads inspect <thread-id>
//	checkpointctl threads resume <thread-id> --action approve
//	checkpointctl threads rm <thread-id>...
//	checkpointctl sessions ls --status interrupted
//
// The store is selected the same way as in a workflow process: defaults, an
// optional --config YAML file, CHECKPOINTER_* environment variables and
// finally the --backend and --dsn flags.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
