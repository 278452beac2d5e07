// Command binlogdump connects to a MySQL or MariaDB primary as a replica
// and prints every binlog event to stdout, mysqlbinlog style. With no
// explicit start point it asks the primary for its current position first.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	mysqlpkg "github.com/kasuganosora/binlogstream/mysql"
	"github.com/kasuganosora/binlogstream/replication"
)

var (
	host     = flag.String("host", "127.0.0.1", "primary host")
	port     = flag.Int("port", 3306, "primary port")
	user     = flag.String("user", "root", "replication user")
	password = flag.String("password", "", "replication password")
	flavor   = flag.String("flavor", mysqlpkg.MySQLFlavor, "mysql or mariadb")
	serverID = flag.Uint("server-id", 1001, "server id this replica announces")
	file     = flag.String("file", "", "binlog file to start from; default is the primary's current file")
	pos      = flag.Uint("pos", 4, "binlog position to start from")
	gtid     = flag.String("gtid", "", "GTID set to start from, overrides file/pos")
	semiSync = flag.Bool("semi-sync", false, "acknowledge events semi-synchronously")
	raw      = flag.Bool("raw", false, "do not decode event bodies")
	hbPeriod = flag.Duration("heartbeat", 30*time.Second, "heartbeat period requested from the primary, 0 to disable")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	startFile, startPos := *file, uint32(*pos)
	if *gtid == "" && startFile == "" {
		var err error
		startFile, startPos, err = primaryPosition()
		if err != nil {
			return err
		}
		logrus.Infof("starting from primary position (%s, %d)", startFile, startPos)
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID:        uint32(*serverID),
		Flavor:          *flavor,
		Host:            *host,
		Port:            uint16(*port),
		User:            *user,
		Password:        *password,
		SemiSyncEnabled: *semiSync,
		RawModeEnabled:  *raw,
		HeartbeatPeriod: *hbPeriod,
		Logger:          logrus.StandardLogger(),
	})
	defer syncer.Close()

	var streamer *replication.BinlogStreamer
	var err error
	if *gtid != "" {
		var gset mysqlpkg.GTIDSet
		gset, err = mysqlpkg.ParseGTIDSet(*flavor, *gtid)
		if err != nil {
			return err
		}
		streamer, err = syncer.StartSyncGTID(gset)
	} else {
		streamer, err = syncer.StartSync(mysqlpkg.Position{Name: startFile, Pos: startPos})
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		ev, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev.Dump(os.Stdout)
	}
}

// primaryPosition fetches the current binlog file and position over a
// regular client connection. The column set of SHOW MASTER STATUS varies
// between versions and flavors, so rows are scanned generically.
func primaryPosition() (string, uint32, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", *user, *password, *host, *port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return "", 0, err
	}
	defer db.Close()

	rows, err := db.Query("SHOW MASTER STATUS")
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}
	if !rows.Next() {
		return "", 0, fmt.Errorf("SHOW MASTER STATUS returned no rows, is binary logging enabled?")
	}

	vals := make([]sql.RawBytes, len(cols))
	scan := make([]interface{}, len(cols))
	for i := range vals {
		scan[i] = &vals[i]
	}
	if err := rows.Scan(scan...); err != nil {
		return "", 0, err
	}

	name := string(vals[0])
	p, err := strconv.ParseUint(string(vals[1]), 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("bad position %q in SHOW MASTER STATUS: %v", vals[1], err)
	}

	return name, uint32(p), nil
}
