package replication

import "fmt"

const (
	// EventHeaderSize is the fixed v4 event header length.
	EventHeaderSize = 19

	SidLength                  = 16
	LogicalTimestampTypeCode   = 2
	PartLogicalTimestampLength = 8
	BinlogChecksumLength       = 4

	// UndefinedServerVer marks a GTID event without server version info.
	UndefinedServerVer = 999999
)

// BinLogFileHeader is the magic at the start of every binlog file.
var BinLogFileHeader = []byte{0xfe, 0x62, 0x69, 0x6e}

// EventType tags the payload format of a binlog event.
type EventType byte

const (
	UNKNOWN_EVENT EventType = iota
	START_EVENT_V3
	QUERY_EVENT
	STOP_EVENT
	ROTATE_EVENT
	INT_VAR_EVENT
	LOAD_EVENT
	SLAVE_EVENT
	CREATE_FILE_EVENT
	APPEND_BLOCK_EVENT
	EXEC_LOAD_EVENT
	DELETE_FILE_EVENT
	NEW_LOAD_EVENT
	RAND_EVENT
	USER_VAR_EVENT
	FORMAT_DESCRIPTION_EVENT
	XID_EVENT
	BEGIN_LOAD_QUERY_EVENT
	EXECUTE_LOAD_QUERY_EVENT
	TABLE_MAP_EVENT
	WRITE_ROWS_EVENTv0
	UPDATE_ROWS_EVENTv0
	DELETE_ROWS_EVENTv0
	WRITE_ROWS_EVENTv1
	UPDATE_ROWS_EVENTv1
	DELETE_ROWS_EVENTv1
	INCIDENT_EVENT
	HEARTBEAT_EVENT
	IGNORABLE_EVENT
	ROWS_QUERY_EVENT
	WRITE_ROWS_EVENTv2
	UPDATE_ROWS_EVENTv2
	DELETE_ROWS_EVENTv2
	GTID_EVENT
	ANONYMOUS_GTID_EVENT
	PREVIOUS_GTIDS_EVENT
	TRANSACTION_CONTEXT_EVENT
	VIEW_CHANGE_EVENT
	XA_PREPARE_LOG_EVENT
	PARTIAL_UPDATE_ROWS_EVENT
	TRANSACTION_PAYLOAD_EVENT
	HEARTBEAT_LOG_EVENT_V2
	GTID_TAGGED_LOG_EVENT
)

const (
	// MariaDB-specific event numbers start at 160.
	MARIADB_ANNOTATE_ROWS_EVENT EventType = 160 + iota
	MARIADB_BINLOG_CHECKPOINT_EVENT
	MARIADB_GTID_EVENT
	MARIADB_GTID_LIST_EVENT
	MARIADB_START_ENCRYPTION_EVENT
	MARIADB_QUERY_COMPRESSED_EVENT
	MARIADB_WRITE_ROWS_COMPRESSED_EVENT_V1
	MARIADB_UPDATE_ROWS_COMPRESSED_EVENT_V1
	MARIADB_DELETE_ROWS_COMPRESSED_EVENT_V1
)

func (e EventType) String() string {
	switch e {
	case UNKNOWN_EVENT:
		return "UnknownEvent"
	case QUERY_EVENT:
		return "QueryEvent"
	case STOP_EVENT:
		return "StopEvent"
	case ROTATE_EVENT:
		return "RotateEvent"
	case INT_VAR_EVENT:
		return "IntVarEvent"
	case RAND_EVENT:
		return "RandEvent"
	case USER_VAR_EVENT:
		return "UserVarEvent"
	case FORMAT_DESCRIPTION_EVENT:
		return "FormatDescriptionEvent"
	case XID_EVENT:
		return "XIDEvent"
	case BEGIN_LOAD_QUERY_EVENT:
		return "BeginLoadQueryEvent"
	case EXECUTE_LOAD_QUERY_EVENT:
		return "ExecuteLoadQueryEvent"
	case TABLE_MAP_EVENT:
		return "TableMapEvent"
	case WRITE_ROWS_EVENTv0:
		return "WriteRowsEventV0"
	case UPDATE_ROWS_EVENTv0:
		return "UpdateRowsEventV0"
	case DELETE_ROWS_EVENTv0:
		return "DeleteRowsEventV0"
	case WRITE_ROWS_EVENTv1:
		return "WriteRowsEventV1"
	case UPDATE_ROWS_EVENTv1:
		return "UpdateRowsEventV1"
	case DELETE_ROWS_EVENTv1:
		return "DeleteRowsEventV1"
	case INCIDENT_EVENT:
		return "IncidentEvent"
	case HEARTBEAT_EVENT:
		return "HeartbeatEvent"
	case IGNORABLE_EVENT:
		return "IgnorableEvent"
	case ROWS_QUERY_EVENT:
		return "RowsQueryEvent"
	case WRITE_ROWS_EVENTv2:
		return "WriteRowsEventV2"
	case UPDATE_ROWS_EVENTv2:
		return "UpdateRowsEventV2"
	case DELETE_ROWS_EVENTv2:
		return "DeleteRowsEventV2"
	case GTID_EVENT:
		return "GTIDEvent"
	case ANONYMOUS_GTID_EVENT:
		return "AnonymousGTIDEvent"
	case PREVIOUS_GTIDS_EVENT:
		return "PreviousGTIDsEvent"
	case TRANSACTION_CONTEXT_EVENT:
		return "TransactionContextEvent"
	case VIEW_CHANGE_EVENT:
		return "ViewChangeEvent"
	case XA_PREPARE_LOG_EVENT:
		return "XAPrepareLogEvent"
	case PARTIAL_UPDATE_ROWS_EVENT:
		return "PartialUpdateRowsEvent"
	case TRANSACTION_PAYLOAD_EVENT:
		return "TransactionPayloadEvent"
	case HEARTBEAT_LOG_EVENT_V2:
		return "HeartbeatLogEventV2"
	case GTID_TAGGED_LOG_EVENT:
		return "GTIDTaggedLogEvent"
	case MARIADB_ANNOTATE_ROWS_EVENT:
		return "MariadbAnnotateRowsEvent"
	case MARIADB_BINLOG_CHECKPOINT_EVENT:
		return "MariadbBinLogCheckPointEvent"
	case MARIADB_GTID_EVENT:
		return "MariadbGTIDEvent"
	case MARIADB_GTID_LIST_EVENT:
		return "MariadbGTIDListEvent"
	case MARIADB_START_ENCRYPTION_EVENT:
		return "MariadbStartEncryptionEvent"
	case MARIADB_QUERY_COMPRESSED_EVENT:
		return "MariadbQueryCompressedEvent"
	case MARIADB_WRITE_ROWS_COMPRESSED_EVENT_V1:
		return "MariadbWriteRowsCompressedEventV1"
	case MARIADB_UPDATE_ROWS_COMPRESSED_EVENT_V1:
		return "MariadbUpdateRowsCompressedEventV1"
	case MARIADB_DELETE_ROWS_COMPRESSED_EVENT_V1:
		return "MariadbDeleteRowsCompressedEventV1"
	default:
		return fmt.Sprintf("UnknownEvent(%d)", byte(e))
	}
}

// Checksum algorithm codes announced in FormatDescriptionEvent.
const (
	BINLOG_CHECKSUM_ALG_OFF   byte = 0
	BINLOG_CHECKSUM_ALG_CRC32 byte = 1
	BINLOG_CHECKSUM_ALG_UNDEF byte = 255
)

// Rows event flags.
const (
	RowsEventStmtEndFlag = 0x01
)

// binlog_row_value_options bits; only PARTIAL_JSON is defined today.
const RowsEventValueOptionPartialJSON = 0x01

// MariaDB GTID event flags.
const (
	BINLOG_MARIADB_FL_STANDALONE      = 1 << iota // no terminating COMMIT
	BINLOG_MARIADB_FL_GROUP_COMMIT_ID             // commit id follows
	BINLOG_MARIADB_FL_TRANSACTIONAL
	BINLOG_MARIADB_FL_ALLOW_PARALLEL
	BINLOG_MARIADB_FL_WAITED
	BINLOG_MARIADB_FL_DDL
)

// Dump command flags.
const (
	// BINLOG_DUMP_NEVER_STOP keeps the dump open, the primary pushes
	// events as they are written.
	BINLOG_DUMP_NEVER_STOP uint16 = 0x00
	// BINLOG_DUMP_NON_BLOCK makes the primary send an EOF packet once the
	// end of the log is reached.
	BINLOG_DUMP_NON_BLOCK uint16 = 0x01

	BINLOG_THROUGH_POSITION uint16 = 0x02
	BINLOG_THROUGH_GTID     uint16 = 0x04
)

// LOG_EVENT_* header flags; only STMT_END matters to the decoder.
const (
	LOG_EVENT_BINLOG_IN_USE_F  uint16 = 0x0001
	LOG_EVENT_THREAD_SPECIFIC_F uint16 = 0x0004
	LOG_EVENT_SUPPRESS_USE_F   uint16 = 0x0008
	LOG_EVENT_ARTIFICIAL_F     uint16 = 0x0020
	LOG_EVENT_RELAY_LOG_F      uint16 = 0x0040
	LOG_EVENT_IGNORABLE_F      uint16 = 0x0080
)

// Transaction payload TLV field tags and compression types.
const (
	TransactionPayloadOTW_END              = 0
	TransactionPayloadPAYLOAD_SIZE         = 1
	TransactionPayloadCOMPRESSION_TYPE     = 2
	TransactionPayloadUNCOMPRESSED_SIZE    = 3

	TransactionPayloadCompressionZstd = 0
	TransactionPayloadCompressionNone = 255
)

// Semi-sync framing.
const (
	semiSyncIndicator  byte = 0xef
	semiSyncAckRequest byte = 0x01
)
