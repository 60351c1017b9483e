package protocol

// DispatcherType tags the closed set of variants a dispatcher record can
// be: Acceptor, ConnectionHandler or PipeIngester.
type DispatcherType string

const (
	DispatcherAcceptor    DispatcherType = "acceptor"
	DispatcherConnHandler DispatcherType = "conn_handler"
	DispatcherPipeIngester DispatcherType = "pipe_ingester"
)

// WriterState is a single LogWriter's serializable identity and
// line-boundary state.
type WriterState struct {
	Unit        string `json:"unit"`
	StreamName  string `json:"stream_name"`
	StartOfLine bool   `json:"start_of_line"`
}

// LogManagerState is the LogManager registry snapshot.
type LogManagerState struct {
	LogDir       string        `json:"log_dir"`
	MaxIdleSecs  float64       `json:"max_idle_secs"`
	TrustBlindly bool          `json:"trust_blindly"`
	Writers      []WriterState `json:"writers"`
}

// DispatcherState is one tagged record in the reload handoff. FD is the
// descriptor number that must be adopted by number in the successor
// process.
type DispatcherState struct {
	Type DispatcherType `json:"type"`
	FD   int            `json:"fd"`

	// ConnectionHandler fields.
	Unit         string `json:"unit,omitempty"`
	HeaderBuffer []byte `json:"header_buffer,omitempty"`

	// PipeIngester fields.
	LogName string `json:"logname,omitempty"`
}

// Snapshot is the complete state handed from a predecessor to its
// successor across a reload.
type Snapshot struct {
	LogManager   LogManagerState    `json:"log_manager"`
	Dispatchers  []DispatcherState  `json:"dispatchers"`
	ParentToKill int                `json:"parent_to_kill"`
}
