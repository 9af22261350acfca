// Command client is a thin CLI shell over pkg/dbclient: connect to one
// site and run a single autocommitting statement (exec), a
// multi-statement transaction (tx), or a health check (health).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kavindu-dev/distribtx/pkg/dbclient"
	"github.com/kavindu-dev/distribtx/pkg/siteclient"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "exec":
		runExec()
	case "tx":
		runTx()
	case "health":
		runHealth()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("distribtx client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  client exec --site=<addr> --query=<sql> [--read=t1,t2] [--write=t1] [--results]")
	fmt.Println("      Run a single autocommitting statement against a site")
	fmt.Println()
	fmt.Println("  client tx --site=<addr> --statements=<sql1;sql2;...>")
	fmt.Println("      Run several statements as one transaction, committing at the end")
	fmt.Println()
	fmt.Println("  client health --site=<addr>")
	fmt.Println("      Check a site's health endpoint")
}

func runExec() {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	site := fs.String("site", "127.0.0.1:7100", "Site address")
	query := fs.String("query", "", "SQL statement to run")
	read := fs.String("read", "", "Comma-separated read set (table names)")
	write := fs.String("write", "", "Comma-separated write set (table names)")
	results := fs.Bool("results", false, "Whether the statement produces rows")
	fs.Parse(os.Args[2:])

	if *query == "" {
		log.Fatal("--query is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := dbclient.Connect(ctx, *site, 10*time.Second)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	result, err := session.Exec(ctx, *query, splitCSV(*read), splitCSV(*write), *results)
	if err != nil {
		log.Fatalf("exec: %v", err)
	}
	printResult(result)
}

func runTx() {
	fs := flag.NewFlagSet("tx", flag.ExitOnError)
	site := fs.String("site", "127.0.0.1:7100", "Site address")
	statements := fs.String("statements", "", "Semicolon-separated SQL statements")
	read := fs.String("read", "", "Comma-separated read set shared by every statement")
	write := fs.String("write", "", "Comma-separated write set shared by every statement")
	fs.Parse(os.Args[2:])

	if *statements == "" {
		log.Fatal("--statements is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := dbclient.Connect(ctx, *site, 10*time.Second)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	if err := session.Begin(ctx, nil); err != nil {
		log.Fatalf("begin: %v", err)
	}

	readSet, writeSet := splitCSV(*read), splitCSV(*write)
	for _, stmt := range strings.Split(*statements, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := session.Exec(ctx, stmt, readSet, writeSet, false); err != nil {
			fmt.Printf("statement failed, aborting: %v\n", err)
			_ = session.Abort(ctx)
			os.Exit(1)
		}
	}

	if err := session.Commit(ctx); err != nil {
		log.Fatalf("commit: %v", err)
	}
	fmt.Println("transaction committed")
}

func runHealth() {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	site := fs.String("site", "127.0.0.1:7100", "Site address")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := siteclient.New(*site, 5*time.Second).Health(ctx); err != nil {
		log.Fatalf("health: %v", err)
	}
	fmt.Printf("%s is reachable\n", *site)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printResult(result *dbclient.QueryResult) {
	if result.AffectedRecords != nil {
		fmt.Printf("%d row(s) affected\n", *result.AffectedRecords)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}{result.Columns, result.Rows})
}
