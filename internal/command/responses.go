package command

import (
	"gopcast/internal/amf"
	"gopcast/internal/message"
)

const (
	fmsVersion      = "FMS/3,5,3,888"
	fmsCapabilities = 127
	fmsMode         = 1

	levelStatus = "status"

	codeConnectSuccess = "NetConnection.Connect.Success"
	codePublishStart   = "NetStream.Publish.Start"
	codePlayStart      = "NetStream.Play.Start"
)

func newCommand(streamID uint32, vals ...amf.Value) *message.Command {
	return &message.Command{StreamID: streamID, Values: vals}
}

func result(streamID uint32, txn float64, vals ...amf.Value) *message.Command {
	return newCommand(streamID, append([]amf.Value{amf.String("_result"), amf.Number(txn)}, vals...)...)
}

func connectResult(streamID uint32, txn, objectEncoding float64) *message.Command {
	props := amf.NewObject(
		amf.Prop("fmsVer", amf.String(fmsVersion)),
		amf.Prop("capabilities", amf.Number(fmsCapabilities)),
		amf.Prop("mode", amf.Number(fmsMode)),
	)
	info := amf.NewObject(
		amf.Prop("level", amf.String(levelStatus)),
		amf.Prop("code", amf.String(codeConnectSuccess)),
		amf.Prop("description", amf.String("Connection succeeded")),
		amf.Prop("objectEncoding", amf.Number(objectEncoding)),
	)
	return result(streamID, txn, props, info)
}

func onBWDone(streamID uint32, txn float64) *message.Command {
	return newCommand(streamID, amf.String("onBWDone"), amf.Number(txn), amf.Null{})
}

func onFCPublish(streamID uint32) *message.Command {
	return newCommand(streamID, amf.String("onFCPublish"), amf.Number(0), amf.Null{}, amf.NewObject(
		amf.Prop("code", amf.String(codePublishStart)),
		amf.Prop("description", amf.String("Started publishing stream.")),
	))
}

func onStatus(streamID uint32, info *amf.Object) *message.Command {
	return newCommand(streamID, amf.String("onStatus"), amf.Number(0), amf.Null{}, info)
}

func publishStartStatus(clientID string) *amf.Object {
	return amf.NewObject(
		amf.Prop("level", amf.String(levelStatus)),
		amf.Prop("code", amf.String(codePublishStart)),
		amf.Prop("description", amf.String("Started publishing stream.")),
		amf.Prop("clientid", amf.String(clientID)),
	)
}

func playStartStatus() *amf.Object {
	return amf.NewObject(
		amf.Prop("level", amf.String(levelStatus)),
		amf.Prop("code", amf.String(codePlayStart)),
		amf.Prop("description", amf.String("Start live")),
	)
}

func sampleAccess(streamID uint32) *message.Data {
	return &message.Data{StreamID: streamID, Values: []amf.Value{
		amf.String("|RtmpSampleAccess"), amf.Boolean(true), amf.Boolean(true),
	}}
}

// onMetaData carries md, or an empty object when the stream has none.
func onMetaData(streamID uint32, md *amf.Object) *message.Data {
	if md == nil {
		md = amf.NewObject()
	}
	return &message.Data{StreamID: streamID, Values: []amf.Value{amf.String("onMetaData"), md}}
}
