// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package insteon

import "strconv"

// Framing and acknowledgment constants for the PLM serial protocol.
const (
	// STX prefixes every frame in both directions.
	STX byte = 0x02

	// Ack and Nack are the values of the ACK/NACK trailer byte on
	// command echoes.
	Ack  byte = 0x06
	Nack byte = 0x15

	// FlagExtended is the message-flags bit selecting the 14-byte
	// user-data form of a direct message.
	FlagExtended byte = 0x10

	// FieldAckNack is the conventional name of the acknowledgment
	// trailer field on reply frames.
	FieldAckNack = "ACK/NACK"
)

// Command numbers used by the engine.
const (
	CmdStandardMessageReceived byte = 0x50
	CmdExtendedMessageReceived byte = 0x51
	CmdALLLinkingCompleted     byte = 0x53
	CmdALLLinkRecordResponse   byte = 0x57
	CmdGetIMInfo               byte = 0x60
	CmdSendInsteonMessage      byte = 0x62
	CmdStartALLLinking         byte = 0x64
	CmdCancelALLLinking        byte = 0x65
	CmdGetFirstALLLinkRecord   byte = 0x69
	CmdGetNextALLLinkRecord    byte = 0x6A
	CmdManageALLLinkRecord     byte = 0x6F
)

// Control codes for ManageALLLinkRecord.
const (
	ControlDeleteBySearch byte = 0x80
	ControlAddController  byte = 0x40
	ControlAddResponder   byte = 0x41
)

// Linking codes for StartALLLinking.
const (
	LinkingResponder  byte = 0x00
	LinkingController byte = 0x01
	LinkingEither     byte = 0x03
	LinkingDelete     byte = 0xFF
)

func bytesFields(names ...string) []Field {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: FieldByte}
	}
	return fields
}

func userData() []Field {
	fields := make([]Field, 14)
	for i := range fields {
		fields[i] = Field{Name: "userData" + strconv.Itoa(i+1), Type: FieldByte}
	}
	return fields
}

func directFields(extended bool) []Field {
	fields := []Field{
		{Name: "toAddress", Type: FieldAddress},
		{Name: "messageFlags", Type: FieldByte},
		{Name: "command1", Type: FieldByte},
		{Name: "command2", Type: FieldByte},
	}
	if extended {
		fields = append(fields, userData()...)
	}
	return fields
}

// Host-to-modem command definitions, keyed by name.
var (
	GetIMInfo = &Def{Name: "GetIMInfo", Number: CmdGetIMInfo}

	GetFirstALLLinkRecord = &Def{Name: "GetFirstALLLinkRecord", Number: CmdGetFirstALLLinkRecord}
	GetNextALLLinkRecord  = &Def{Name: "GetNextALLLinkRecord", Number: CmdGetNextALLLinkRecord}

	ManageALLLinkRecord = &Def{
		Name:   "ManageALLLinkRecord",
		Number: CmdManageALLLinkRecord,
		Fields: append([]Field{
			{Name: "controlCode", Type: FieldByte},
			{Name: "recordFlags", Type: FieldByte},
			{Name: "ALLLinkGroup", Type: FieldByte},
			{Name: "linkAddress", Type: FieldAddress},
		}, bytesFields("linkData1", "linkData2", "linkData3")...),
	}

	SendStandardMessage = &Def{
		Name:   "SendStandardMessage",
		Number: CmdSendInsteonMessage,
		Fields: directFields(false),
	}
	SendExtendedMessage = &Def{
		Name:   "SendExtendedMessage",
		Number: CmdSendInsteonMessage,
		Fields: directFields(true),
	}

	StartALLLinking = &Def{
		Name:   "StartALLLinking",
		Number: CmdStartALLLinking,
		Fields: bytesFields("linkCode", "ALLLinkGroup"),
	}
	CancelALLLinking = &Def{Name: "CancelALLLinking", Number: CmdCancelALLLinking}
)

// Modem-to-host frame definitions. Command echoes reuse the command
// number with an ACK/NACK trailer appended.
var (
	StandardMessageReceived = &Def{
		Name:   "StandardMessageReceived",
		Number: CmdStandardMessageReceived,
		Fields: []Field{
			{Name: "fromAddress", Type: FieldAddress},
			{Name: "toAddress", Type: FieldAddress},
			{Name: "messageFlags", Type: FieldByte},
			{Name: "command1", Type: FieldByte},
			{Name: "command2", Type: FieldByte},
		},
	}

	ExtendedMessageReceived = &Def{
		Name:   "ExtendedMessageReceived",
		Number: CmdExtendedMessageReceived,
		Fields: append([]Field{
			{Name: "fromAddress", Type: FieldAddress},
			{Name: "toAddress", Type: FieldAddress},
			{Name: "messageFlags", Type: FieldByte},
			{Name: "command1", Type: FieldByte},
			{Name: "command2", Type: FieldByte},
		}, userData()...),
	}

	ALLLinkingCompleted = &Def{
		Name:   "ALLLinkingCompleted",
		Number: CmdALLLinkingCompleted,
		Fields: []Field{
			{Name: "linkCode", Type: FieldByte},
			{Name: "ALLLinkGroup", Type: FieldByte},
			{Name: "linkAddress", Type: FieldAddress},
			{Name: "deviceCategory", Type: FieldByte},
			{Name: "deviceSubcategory", Type: FieldByte},
			{Name: "firmwareVersion", Type: FieldByte},
		},
	}

	ALLLinkRecordResponse = &Def{
		Name:   "ALLLinkRecordResponse",
		Number: CmdALLLinkRecordResponse,
		Fields: append([]Field{
			{Name: "RecordFlags", Type: FieldByte},
			{Name: "ALLLinkGroup", Type: FieldByte},
			{Name: "LinkAddr", Type: FieldAddress},
		}, bytesFields("LinkData1", "LinkData2", "LinkData3")...),
	}

	GetIMInfoReply = &Def{
		Name:   "GetIMInfoReply",
		Number: CmdGetIMInfo,
		Fields: []Field{
			{Name: "IMAddress", Type: FieldAddress},
			{Name: "deviceCategory", Type: FieldByte},
			{Name: "deviceSubcategory", Type: FieldByte},
			{Name: "firmwareVersion", Type: FieldByte},
			{Name: FieldAckNack, Type: FieldByte},
		},
	}

	SendStandardMessageReply = &Def{
		Name:   "SendStandardMessageReply",
		Number: CmdSendInsteonMessage,
		Fields: append(directFields(false), Field{Name: FieldAckNack, Type: FieldByte}),
	}
	SendExtendedMessageReply = &Def{
		Name:   "SendExtendedMessageReply",
		Number: CmdSendInsteonMessage,
		Fields: append(directFields(true), Field{Name: FieldAckNack, Type: FieldByte}),
	}

	StartALLLinkingReply = &Def{
		Name:   "StartALLLinkingReply",
		Number: CmdStartALLLinking,
		Fields: append(bytesFields("linkCode", "ALLLinkGroup"), Field{Name: FieldAckNack, Type: FieldByte}),
	}
	CancelALLLinkingReply = &Def{
		Name:   "CancelALLLinkingReply",
		Number: CmdCancelALLLinking,
		Fields: []Field{{Name: FieldAckNack, Type: FieldByte}},
	}

	GetFirstALLLinkRecordReply = &Def{
		Name:   "GetFirstALLLinkRecordReply",
		Number: CmdGetFirstALLLinkRecord,
		Fields: []Field{{Name: FieldAckNack, Type: FieldByte}},
	}
	GetNextALLLinkRecordReply = &Def{
		Name:   "GetNextALLLinkRecordReply",
		Number: CmdGetNextALLLinkRecord,
		Fields: []Field{{Name: FieldAckNack, Type: FieldByte}},
	}

	ManageALLLinkRecordReply = &Def{
		Name:   "ManageALLLinkRecordReply",
		Number: CmdManageALLLinkRecord,
		Fields: append(ManageALLLinkRecord.Fields, Field{Name: FieldAckNack, Type: FieldByte}),
	}
)

// replyDefs maps a frame's command number to its modem-to-host layout.
// SendInsteonMessage echoes are resolved separately because their length
// depends on the extended bit in the message flags.
var replyDefs = map[byte]*Def{
	CmdStandardMessageReceived: StandardMessageReceived,
	CmdExtendedMessageReceived: ExtendedMessageReceived,
	CmdALLLinkingCompleted:     ALLLinkingCompleted,
	CmdALLLinkRecordResponse:   ALLLinkRecordResponse,
	CmdGetIMInfo:               GetIMInfoReply,
	CmdStartALLLinking:         StartALLLinkingReply,
	CmdCancelALLLinking:        CancelALLLinkingReply,
	CmdGetFirstALLLinkRecord:   GetFirstALLLinkRecordReply,
	CmdGetNextALLLinkRecord:    GetNextALLLinkRecordReply,
	CmdManageALLLinkRecord:     ManageALLLinkRecordReply,
}
