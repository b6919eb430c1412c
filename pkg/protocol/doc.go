// Package protocol implements the chirp advertisement frame protocol.
//
// The protocol package defines the wire frame carried inside a single
// radio advertisement, the chunker that splits a message across frames,
// and the topic/message-id helpers shared by senders and relays.
//
// # Wire Format
//
// Every frame occupies one advertisement's manufacturer data:
//
//	company_id:u16 LE | version:u8 | topic:u8 | ttl:u8 | msg_id:[4]u8 | seq:u8 | tot:u8 | payload
//
// company_id and version are fixed constants; a frame failing either
// check is not one of ours and is silently ignored. msg_id is chosen at
// random once per outbound message and, together with topic, identifies
// the message during reassembly and duplicate suppression. seq/tot
// locate the chunk within the message.
//
// There is no addressing anywhere in the frame: any device in radio
// range may decode, reassemble and re-broadcast it.
package protocol
