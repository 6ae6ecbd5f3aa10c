// Package ntt decodes Wormhole Native Token Transfer payloads carried inside
// a VAA. A transfer arrives in exactly one of two wire variants: the
// transceiver message directly, or the same message wrapped in a standard
// relayer delivery instruction.
package ntt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Variant identifies which wire form carried the transfer.
type Variant string

const (
	// VariantTransfer is a Wormhole transceiver message sent directly.
	VariantTransfer Variant = "transfer"
	// VariantRelayedTransfer is a transceiver message delivered through the
	// Wormhole standard relayer.
	VariantRelayedTransfer Variant = "transfer_via_relayer"
)

var (
	// transceiverMessagePrefix marks a Wormhole NTT transceiver message.
	transceiverMessagePrefix = [4]byte{0x99, 0x45, 0xFF, 0x10}
	// nativeTokenTransferPrefix marks an NTT transfer payload ("NTT" magic).
	nativeTokenTransferPrefix = [4]byte{0x99, 0x4E, 0x54, 0x54}
)

// deliveryInstructionPayloadID tags a standard relayer delivery instruction.
const deliveryInstructionPayloadID = 0x01

var (
	ErrNotTransceiverMessage = errors.New("payload is not an NTT transceiver message")
	ErrNotDeliveryPayload    = errors.New("payload is not a standard relayer delivery")
)

// NativeTokenTransfer is the innermost transfer record.
type NativeTokenTransfer struct {
	Decimals    uint8
	Amount      uint64
	SourceToken [32]byte
	Recipient   [32]byte
	ToChain     uint16
}

// ManagerMessage is the NTT manager envelope around a transfer.
type ManagerMessage struct {
	ID       [32]byte
	Sender   [32]byte
	Transfer NativeTokenTransfer
}

// TransceiverMessage is the outermost NTT envelope inside a VAA payload.
type TransceiverMessage struct {
	SourceManager      [32]byte
	RecipientManager   [32]byte
	Message            ManagerMessage
	TransceiverPayload []byte
}

// Transfer is the decoded tagged union of the two wire variants.
type Transfer struct {
	Variant Variant
	Message TransceiverMessage
}

// ParseTransfer trial-decodes a VAA payload: the direct transceiver message
// first, then the standard relayer wrapper. When both fail, the relayer
// decode error is returned.
func ParseTransfer(payload []byte) (*Transfer, error) {
	msg, errDirect := ParseTransceiverMessage(payload)
	if errDirect == nil {
		return &Transfer{Variant: VariantTransfer, Message: *msg}, nil
	}

	msg, errRelayed := parseRelayedTransceiverMessage(payload)
	if errRelayed != nil {
		return nil, errRelayed
	}
	return &Transfer{Variant: VariantRelayedTransfer, Message: *msg}, nil
}

// ParseTransceiverMessage decodes a direct (variant A) transceiver message.
func ParseTransceiverMessage(payload []byte) (*TransceiverMessage, error) {
	r := bytes.NewReader(payload)

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTransceiverMessage, err)
	}
	if prefix != transceiverMessagePrefix {
		return nil, fmt.Errorf("%w: prefix %x", ErrNotTransceiverMessage, prefix)
	}

	var msg TransceiverMessage
	if _, err := io.ReadFull(r, msg.SourceManager[:]); err != nil {
		return nil, fmt.Errorf("read source manager: %w", err)
	}
	if _, err := io.ReadFull(r, msg.RecipientManager[:]); err != nil {
		return nil, fmt.Errorf("read recipient manager: %w", err)
	}

	managerPayload, err := readU16Bytes(r)
	if err != nil {
		return nil, fmt.Errorf("read manager message: %w", err)
	}
	if err := parseManagerMessage(managerPayload, &msg.Message); err != nil {
		return nil, err
	}

	msg.TransceiverPayload, err = readU16Bytes(r)
	if err != nil {
		return nil, fmt.Errorf("read transceiver payload: %w", err)
	}
	return &msg, nil
}

// parseRelayedTransceiverMessage unwraps a standard relayer delivery
// instruction (variant B) and decodes the transceiver message it carries.
func parseRelayedTransceiverMessage(payload []byte) (*TransceiverMessage, error) {
	r := bytes.NewReader(payload)

	payloadID, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDeliveryPayload, err)
	}
	if payloadID != deliveryInstructionPayloadID {
		return nil, fmt.Errorf("%w: payload id %#x", ErrNotDeliveryPayload, payloadID)
	}

	var targetChain uint16
	if err := binary.Read(r, binary.BigEndian, &targetChain); err != nil {
		return nil, fmt.Errorf("read target chain: %w", err)
	}
	var targetAddress [32]byte
	if _, err := io.ReadFull(r, targetAddress[:]); err != nil {
		return nil, fmt.Errorf("read target address: %w", err)
	}

	var innerLen uint32
	if err := binary.Read(r, binary.BigEndian, &innerLen); err != nil {
		return nil, fmt.Errorf("read delivery payload length: %w", err)
	}
	if int(innerLen) > r.Len() {
		return nil, fmt.Errorf("%w: delivery payload length %d exceeds remaining %d",
			ErrNotDeliveryPayload, innerLen, r.Len())
	}
	inner := make([]byte, innerLen)
	if _, err := io.ReadFull(r, inner); err != nil {
		return nil, fmt.Errorf("read delivery payload: %w", err)
	}

	return ParseTransceiverMessage(inner)
}

func parseManagerMessage(payload []byte, out *ManagerMessage) error {
	r := bytes.NewReader(payload)

	if _, err := io.ReadFull(r, out.ID[:]); err != nil {
		return fmt.Errorf("read message id: %w", err)
	}
	if _, err := io.ReadFull(r, out.Sender[:]); err != nil {
		return fmt.Errorf("read sender: %w", err)
	}

	transferPayload, err := readU16Bytes(r)
	if err != nil {
		return fmt.Errorf("read transfer payload: %w", err)
	}
	return parseNativeTokenTransfer(transferPayload, &out.Transfer)
}

func parseNativeTokenTransfer(payload []byte, out *NativeTokenTransfer) error {
	r := bytes.NewReader(payload)

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNotTransceiverMessage, err)
	}
	if prefix != nativeTokenTransferPrefix {
		return fmt.Errorf("%w: transfer prefix %x", ErrNotTransceiverMessage, prefix)
	}

	if err := binary.Read(r, binary.BigEndian, &out.Decimals); err != nil {
		return fmt.Errorf("read decimals: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &out.Amount); err != nil {
		return fmt.Errorf("read amount: %w", err)
	}
	if _, err := io.ReadFull(r, out.SourceToken[:]); err != nil {
		return fmt.Errorf("read source token: %w", err)
	}
	if _, err := io.ReadFull(r, out.Recipient[:]); err != nil {
		return fmt.Errorf("read recipient: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &out.ToChain); err != nil {
		return fmt.Errorf("read destination chain: %w", err)
	}
	return nil
}

// readU16Bytes reads a big-endian u16 length followed by that many bytes.
func readU16Bytes(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("declared length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
