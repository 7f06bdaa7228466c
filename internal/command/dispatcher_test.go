package command

import (
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"gopcast/internal/amf"
	"gopcast/internal/auth"
	"gopcast/internal/message"
	"gopcast/internal/streammanager"
	"gopcast/pkg/models"
)

type fakeConn struct {
	id      models.ConnID
	app     string
	msid    uint32
	sent    []message.Message
	sendErr error
}

func (c *fakeConn) ID() models.ConnID          { return c.id }
func (c *fakeConn) App() string                { return c.app }
func (c *fakeConn) SetMediaStreamID(id uint32) { c.msid = id }

func (c *fakeConn) Send(msgs ...message.Message) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msgs...)
	return nil
}

type fakeTransport struct {
	mu        sync.Mutex
	active    map[models.ConnID]bool
	delivered map[models.ConnID][]message.Message
}

func (t *fakeTransport) IsActive(id models.ConnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[id]
}

func (t *fakeTransport) Deliver(id models.ConnID, m message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered[id] = append(t.delivered[id], m)
	return nil
}

type fixture struct {
	d         *Dispatcher
	registry  *streammanager.Manager
	transport *fakeTransport
}

func newFixture(active ...models.ConnID) *fixture {
	log := logrus.New()
	log.SetOutput(io.Discard)
	tr := &fakeTransport{
		active:    make(map[models.ConnID]bool),
		delivered: make(map[models.ConnID][]message.Message),
	}
	for _, id := range active {
		tr.active[id] = true
	}
	reg := streammanager.New(log, nil, time.Minute)
	return &fixture{
		d:         New(DefaultConfig(), reg, tr, auth.New("kyu"), log, nil),
		registry:  reg,
		transport: tr,
	}
}

func cmd(streamID uint32, vals ...amf.Value) *message.Command {
	return &message.Command{StreamID: streamID, Values: vals}
}

func connectCmd(app string) *message.Command {
	return cmd(0, amf.String("connect"), amf.Number(1), amf.NewObject(
		amf.Prop("app", amf.String(app)),
		amf.Prop("flashVer", amf.String("FMLE/3.0 (compatible; FMSc/1.0)")),
		amf.Prop("tcUrl", amf.String("rtmp://localhost/"+app)),
		amf.Prop("capabilities", amf.Number(239)),
		amf.Prop("objectEncoding", amf.Number(0)),
	))
}

func publishCmd(name string) *message.Command {
	return cmd(1, amf.String("publish"), amf.Number(5), amf.Null{}, amf.String(name), amf.String("live"))
}

func playCmd(name string) *message.Command {
	return cmd(1, amf.String("play"), amf.Number(4), amf.Null{}, amf.String(name))
}

func TestConnectResponses(t *testing.T) {
	f := newFixture()
	c := &fakeConn{id: "c1"}

	res, err := f.d.Dispatch(c, connectCmd("kyu?token=abc"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != Handled || res.App != "kyu" || res.Name != "connect" {
		t.Fatalf("Result = %+v", res)
	}
	if len(c.sent) != 5 {
		t.Fatalf("sent %d messages, want 5", len(c.sent))
	}
	if m, ok := c.sent[0].(*message.WindowAckSize); !ok || m.Size != 250000 {
		t.Fatalf("#0 = %#v, want WindowAckSize 250000", c.sent[0])
	}
	if m, ok := c.sent[1].(*message.SetPeerBandwidth); !ok || m.Size != 2500000 || m.Limit != message.LimitDynamic {
		t.Fatalf("#1 = %#v, want SetPeerBandwidth 2500000 dynamic", c.sent[1])
	}
	if m, ok := c.sent[2].(*message.SetChunkSize); !ok || m.Size != 4096 {
		t.Fatalf("#2 = %#v, want SetChunkSize 4096", c.sent[2])
	}

	r := c.sent[3].(*message.Command)
	if name, _ := r.Name(); name != "_result" {
		t.Fatalf("#3 name = %q, want _result", name)
	}
	if r.Values[1] != amf.Number(1) {
		t.Fatalf("#3 transaction id = %v, want 1", r.Values[1])
	}
	props := r.Values[2].(*amf.Object)
	if v, _ := props.GetString("fmsVer"); v != "FMS/3,5,3,888" {
		t.Fatalf("fmsVer = %q", v)
	}
	info := r.Values[3].(*amf.Object)
	if v, _ := info.GetString("code"); v != "NetConnection.Connect.Success" {
		t.Fatalf("code = %q", v)
	}

	bw := c.sent[4].(*message.Command)
	want := []amf.Value{amf.String("onBWDone"), amf.Number(1), amf.Null{}}
	if !reflect.DeepEqual(bw.Values, want) {
		t.Fatalf("#4 = %#v, want %#v", bw.Values, want)
	}
}

func TestSimpleResults(t *testing.T) {
	cases := []struct {
		name string
		want []amf.Value
	}{
		{"releaseStream", []amf.Value{amf.String("_result"), amf.Number(2), amf.Null{}, amf.Undefined{}}},
		{"FCPublish", []amf.Value{amf.String("_result"), amf.Number(2), amf.Null{}, amf.Undefined{}}},
		{"createStream", []amf.Value{amf.String("_result"), amf.Number(2), amf.Null{}, amf.Number(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			c := &fakeConn{id: "c1", app: "kyu"}
			res, err := f.d.Dispatch(c, cmd(0, amf.String(tc.name), amf.Number(2), amf.Null{}, amf.String("live")))
			if err != nil || res.Outcome != Handled {
				t.Fatalf("Dispatch = %+v, %v", res, err)
			}
			if len(c.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(c.sent))
			}
			if got := c.sent[0].(*message.Command).Values; !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("response = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestPublishCreatesStream(t *testing.T) {
	f := newFixture("pub")
	c := &fakeConn{id: "pub", app: "kyu"}

	res, err := f.d.Dispatch(c, publishCmd("live?key=1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Published == nil || res.Published.Key() != (models.StreamKey{App: "kyu", Name: "live"}) {
		t.Fatalf("Published = %v", res.Published)
	}
	if _, ok := f.registry.Get(models.StreamKey{App: "kyu", Name: "live"}); !ok {
		t.Fatal("stream not registered")
	}
	if len(c.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(c.sent))
	}
	if name, _ := c.sent[0].(*message.Command).Name(); name != "onFCPublish" {
		t.Fatalf("#0 = %q, want onFCPublish", name)
	}
	status := c.sent[1].(*message.Command)
	if status.StreamID != 1 {
		t.Fatalf("onStatus stream id = %d, want 1", status.StreamID)
	}
	info := status.Values[3].(*amf.Object)
	if code, _ := info.GetString("code"); code != "NetStream.Publish.Start" {
		t.Fatalf("code = %q", code)
	}
	if id, _ := info.GetString("clientid"); id != "pub" {
		t.Fatalf("clientid = %q, want pub", id)
	}
}

func TestPublishFallsBackToCommandApp(t *testing.T) {
	f := newFixture("pub")
	c := &fakeConn{id: "pub"}
	_, err := f.d.Dispatch(c, cmd(1, amf.String("publish"), amf.Number(5), amf.Null{}, amf.String("live"), amf.String("kyu")))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := f.registry.Get(models.StreamKey{App: "kyu", Name: "live"}); !ok {
		t.Fatal("stream not registered under the command's app")
	}
}

func TestPublishRejections(t *testing.T) {
	f := newFixture("p1", "p2")
	if _, err := f.d.Dispatch(&fakeConn{id: "p1", app: "kyu"}, publishCmd("live")); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		conn *fakeConn
		cmd  *message.Command
		want error
	}{
		{"duplicate from another connection", &fakeConn{id: "p2", app: "kyu"}, publishCmd("live"), ErrDuplicatePublish},
		{"unsupported app", &fakeConn{id: "p2", app: "other"}, publishCmd("cam"), ErrUnsupportedApp},
		{"app is case sensitive", &fakeConn{id: "p2", app: "KYU"}, publishCmd("cam"), ErrUnsupportedApp},
		{"missing name", &fakeConn{id: "p2", app: "kyu"}, cmd(1, amf.String("publish"), amf.Number(5), amf.Null{}), ErrMalformedCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.d.Dispatch(tc.conn, tc.cmd)
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrDispatch) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if res.Outcome != Dropped {
				t.Fatalf("Outcome = %v, want dropped", res.Outcome)
			}
			if len(tc.conn.sent) != 0 {
				t.Fatalf("rejected command was answered with %d messages", len(tc.conn.sent))
			}
		})
	}

	s, _ := f.registry.Get(models.StreamKey{App: "kyu", Name: "live"})
	if s.Publisher() != "p1" {
		t.Fatalf("publisher = %s, want p1", s.Publisher())
	}
}

func TestPlayMissingStream(t *testing.T) {
	f := newFixture("viewer")
	c := &fakeConn{id: "viewer", app: "kyu"}
	res, err := f.d.Dispatch(c, playCmd("nothing"))
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("err = %v, want ErrStreamNotFound", err)
	}
	if res.Outcome != Dropped || len(c.sent) != 0 {
		t.Fatalf("Outcome = %v, sent %d", res.Outcome, len(c.sent))
	}
}

func TestPlayAttachesSubscriber(t *testing.T) {
	f := newFixture("pub", "viewer")
	res, err := f.d.Dispatch(&fakeConn{id: "pub", app: "kyu"}, publishCmd("live"))
	if err != nil {
		t.Fatal(err)
	}
	s := res.Published
	s.SetMetadata(amf.NewECMAArray(amf.Prop("width", amf.Number(1280))))
	key := &message.Video{Control: 0x17, Payload: []byte{0x01, 0, 0, 0}}
	s.OnRecvVideo(key)

	c := &fakeConn{id: "viewer"}
	res, err = f.d.Dispatch(c, playCmd("live?token=x"))
	if err != nil {
		t.Fatalf("Dispatch play: %v", err)
	}
	if res.Played != s {
		t.Fatal("Played is not the published stream")
	}
	if c.msid != 1 {
		t.Fatalf("media stream id = %d, want 1", c.msid)
	}
	if len(c.sent) != 4 {
		t.Fatalf("sent %d messages, want 4", len(c.sent))
	}
	if uc, ok := c.sent[0].(*message.UserControl); !ok || uc.Event != message.EventStreamBegin || uc.Data != 1 {
		t.Fatalf("#0 = %#v, want StreamBegin 1", c.sent[0])
	}
	info := c.sent[1].(*message.Command).Values[3].(*amf.Object)
	if code, _ := info.GetString("code"); code != "NetStream.Play.Start" {
		t.Fatalf("code = %q", code)
	}
	access := c.sent[2].(*message.Data)
	if !reflect.DeepEqual(access.Values, []amf.Value{amf.String("|RtmpSampleAccess"), amf.Boolean(true), amf.Boolean(true)}) {
		t.Fatalf("#2 = %#v", access.Values)
	}
	md := c.sent[3].(*message.Data)
	if name, _ := md.Name(); name != "onMetaData" {
		t.Fatalf("#3 = %q, want onMetaData", name)
	}
	if w, _ := md.Values[1].(*amf.Object).Get("width"); w != amf.Number(1280) {
		t.Fatalf("metadata width = %v", w)
	}

	if got := f.transport.delivered["viewer"]; len(got) != 1 || got[0] != key {
		t.Fatalf("replayed %d messages, want the cached key frame", len(got))
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d", s.SubscriberCount())
	}

	// a second play on the same connection is refused
	if _, err := f.d.Dispatch(c, playCmd("live")); !errors.Is(err, ErrSubscribeRefused) {
		t.Fatalf("second play err = %v, want ErrSubscribeRefused", err)
	}
}

func TestOtherCommands(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name string
		want Outcome
	}{
		{"FCUnpublish", NoOp},
		{"deleteStream", NoOp},
		{"getStreamLength", Ignored},
		{"closeStream", Ignored},
	}
	for _, tc := range cases {
		c := &fakeConn{id: "c"}
		res, err := f.d.Dispatch(c, cmd(0, amf.String(tc.name), amf.Number(6), amf.Null{}))
		if err != nil || res.Outcome != tc.want {
			t.Errorf("%s: Outcome = %v, err = %v; want %v", tc.name, res.Outcome, err, tc.want)
		}
		if len(c.sent) != 0 {
			t.Errorf("%s: answered with %d messages", tc.name, len(c.sent))
		}
	}
}

func TestNameIsFirstStringValue(t *testing.T) {
	f := newFixture()
	c := &fakeConn{id: "c"}
	res, err := f.d.Dispatch(c, cmd(0, amf.Number(9), amf.Null{}, amf.String("createStream")))
	if err != nil || res.Name != "createStream" {
		t.Fatalf("Dispatch = %+v, %v", res, err)
	}
	got := c.sent[0].(*message.Command).Values[1]
	if got != amf.Number(9) {
		t.Fatalf("transaction id = %v, want 9", got)
	}
}

func TestMalformedCommandIsDropped(t *testing.T) {
	f := newFixture()
	for _, vals := range [][]amf.Value{nil, {amf.Number(1), amf.Null{}}} {
		c := &fakeConn{id: "c"}
		res, err := f.d.Dispatch(c, cmd(0, vals...))
		if !errors.Is(err, ErrMalformedCommand) || res.Outcome != Dropped {
			t.Fatalf("Dispatch(%v) = %+v, %v", vals, res, err)
		}
	}
}

func TestSendFailureDropsCommand(t *testing.T) {
	f := newFixture()
	c := &fakeConn{id: "c", sendErr: errors.New("connection closed")}
	res, err := f.d.Dispatch(c, connectCmd("kyu"))
	if err == nil || res.Outcome != Dropped {
		t.Fatalf("Dispatch = %+v, %v; want dropped", res, err)
	}
	if errors.Is(err, ErrDispatch) {
		t.Fatalf("send failure reported as a policy rejection: %v", err)
	}
}
