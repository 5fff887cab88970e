package segment

// channelSegment wraps a write-buffer-backed Segment but serializes every
// ReadAt/ReadInto through a single goroutine's request/response channel, so
// concurrent readers never issue concurrent syscalls against the same file
// descriptor. Appends, Force, and lifecycle calls pass straight through —
// only reads are funneled, since those are the calls readers outside the
// single-writer goroutine may issue concurrently.
type channelSegment struct {
	inner Segment
	reqCh chan readRequest
	done  chan struct{}
}

type readRequest struct {
	offset int64
	dst    []byte // nil for ReadAt, non-nil for ReadInto
	respCh chan readResponse
}

type readResponse struct {
	data []byte
	n    int
	err  error
}

// NewChannelSegment wraps inner (normally a writeBuffer-backed segment)
// with a single-goroutine read server.
func NewChannelSegment(inner Segment) Segment {
	cs := &channelSegment{
		inner: inner,
		reqCh: make(chan readRequest),
		done:  make(chan struct{}),
	}
	go cs.serve()
	return cs
}

func (cs *channelSegment) serve() {
	for {
		select {
		case req := <-cs.reqCh:
			if req.dst == nil {
				data, err := cs.inner.ReadAt(req.offset)
				req.respCh <- readResponse{data: data, err: err}
			} else {
				n, err := cs.inner.ReadInto(req.offset, req.dst)
				req.respCh <- readResponse{n: n, err: err}
			}
		case <-cs.done:
			return
		}
	}
}

func (cs *channelSegment) ID() uint16 { return cs.inner.ID() }

func (cs *channelSegment) Append(payload []byte) (int64, error) {
	return cs.inner.Append(payload)
}

func (cs *channelSegment) ReadAt(offset int64) ([]byte, error) {
	respCh := make(chan readResponse, 1)
	cs.reqCh <- readRequest{offset: offset, respCh: respCh}
	resp := <-respCh
	return resp.data, resp.err
}

func (cs *channelSegment) ReadInto(offset int64, dst []byte) (int, error) {
	respCh := make(chan readResponse, 1)
	cs.reqCh <- readRequest{offset: offset, dst: dst, respCh: respCh}
	resp := <-respCh
	return resp.n, resp.err
}

func (cs *channelSegment) Force() error              { return cs.inner.Force() }
func (cs *channelSegment) AsReadOnly()                { cs.inner.AsReadOnly() }
func (cs *channelSegment) Mode() Mode                 { return cs.inner.Mode() }
func (cs *channelSegment) InitialSize() int64         { return cs.inner.InitialSize() }
func (cs *channelSegment) AppendPosition() int64      { return cs.inner.AppendPosition() }
func (cs *channelSegment) LoadSize() int64            { return cs.inner.LoadSize() }
func (cs *channelSegment) LoadFactor() float64        { return cs.inner.LoadFactor() }
func (cs *channelSegment) LastForcedTime() int64      { return cs.inner.LastForcedTime() }
func (cs *channelSegment) TruncateTo(position int64) error {
	return cs.inner.TruncateTo(position)
}

func (cs *channelSegment) Free() error {
	close(cs.done)
	return cs.inner.Free()
}
