/*
Package iso7816 speaks APDUs to contactless cards: ISO/IEC 7816-4 commands,
the PC/SC Part 3 pseudo APDUs readers use for memory cards, and the
wrapping of MIFARE DESFire native commands.

# Exchanges

A Client sends a CommandAPDU through a Transmitter and returns a Trace, the
list of transactions needed to complete the logical exchange:

  - 0x61XX: more data is available; GET RESPONSE is sent with Le = XX.
  - 0x6CXX: wrong Le; the command is sent again with Le = XX.
  - 0x91AF: a DESFire command has more frames; SendNative asks for them.

Both loops are bounded. Send stops after 16 transactions and returns the
trace as is; SendNative gives up with ErrTooManyFrames after 256 frames.

Trace.Data returns the final response data, or a StatusError carrying the
status word of a failed exchange:

	trace, err := client.Send(iso7816.ReadRecord(cla, 1, 1))
	if err != nil {
	    return err // the transmitter failed
	}
	data, err := trace.Data()
	var sw iso7816.StatusError
	if errors.As(err, &sw) && iso7816.StatusWord(sw) == iso7816.SW_ERR_RECORD_NOT_FOUND {
	    // past the last record
	}

# Commands

  - SELECT by AID and READ RECORD builders for ISO applications.
  - GET DATA (UID), LOAD KEY, GENERAL AUTHENTICATE and READ BINARY with
    CLA 'FF' for MIFARE Classic and Ultralight cards behind a PC/SC reader.
  - NativeCommand and SendNative for DESFire (CLA '90').

# Reports

SelectResult and ReadRecordResult turn a trace into a readable report of
the command, the status of every step and the data received, printed as a
BER-TLV tree. Reports are meant for debug logs:

	if res, err := iso7816.NewSelectResult(trace); err == nil {
	    logger.Debug(res.Describe())
	}
*/
package iso7816
