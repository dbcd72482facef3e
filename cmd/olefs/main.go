package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	olefs "github.com/asalih/go-olefs"
)

func main() {
	root := &cobra.Command{
		Use:           "olefs",
		Short:         "Inspect and modify OLE structured storage containers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(lsCmd(), catCmd(), putCmd(), rmCmd(), statCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func lsCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls <file> [path]",
		Short: "List entries under a storage",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := olefs.Open(args[0], false)
			if err != nil {
				return err
			}
			defer st.Close()

			path := "/"
			if len(args) > 1 {
				path = args[1]
			}

			return listPath(st, path, recursive)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into storages")

	return cmd
}

func listPath(st *olefs.Storage, path string, recursive bool) error {
	if !st.Exists(path) {
		return fmt.Errorf("no such entry: %s", path)
	}

	for _, info := range st.List(path) {
		kind := "stream "
		if info.Dir {
			kind = "storage"
		}
		fmt.Printf("%s  %10d  %s\n", kind, info.Size, info.Path)

		if recursive && info.Dir {
			if err := listPath(st, info.Path, true); err != nil {
				return err
			}
		}
	}

	return nil
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file> <path>",
		Short: "Write a stream's content to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := olefs.Open(args[0], false)
			if err != nil {
				return err
			}
			defer st.Close()

			stream, err := st.OpenStream(args[1])
			if err != nil {
				return err
			}

			data := make([]byte, stream.Size())
			n := stream.ReadAt(0, data)
			_, err = os.Stdout.Write(data[:n])
			return err
		},
	}
}

func putCmd() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "put <file> <path> <local-file>",
		Short: "Store a local file as a stream",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}

			var st *olefs.Storage
			if create {
				st, err = olefs.Create(args[0])
			} else {
				st, err = olefs.Open(args[0], true)
			}
			if err != nil {
				return err
			}
			defer st.Close()

			stream, err := st.CreateStream(args[1], uint32(len(data)))
			if err != nil {
				return err
			}

			if n := stream.WriteAt(0, data); n != uint32(len(data)) {
				return fmt.Errorf("short write: %d of %d bytes", n, len(data))
			}

			return st.Flush()
		},
	}
	cmd.Flags().BoolVarP(&create, "create", "c", false, "create the container first")

	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file> <path>",
		Short: "Delete a stream or a storage recursively",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := olefs.Open(args[0], true)
			if err != nil {
				return err
			}
			defer st.Close()

			if !st.DeleteByName(args[1]) {
				return fmt.Errorf("cannot delete: %s", args[1])
			}

			return nil
		},
	}
}

func statCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "stat <file>",
		Short: "Print container statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := olefs.Open(args[0], false)
			if err != nil {
				return err
			}
			defer st.Close()

			stats := st.Stats()
			fmt.Printf("entries:      %d (%d unused)\n", stats.Entries, stats.UnusedEntries)
			fmt.Printf("big blocks:   %d (%d unused)\n", stats.BigBlocks, stats.UnusedBigBlocks)
			fmt.Printf("small blocks: %d (%d unused)\n", stats.SmallBlocks, stats.UnusedSmallBlocks)

			if debug {
				log, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer log.Sync()
				st.Dump(log)
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "dump internal structures")

	return cmd
}
