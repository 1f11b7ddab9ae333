package bitstream

// Visitor drives a single decode pass over a bitstream buffer.
// ValidateSignature, OnBlockExit, and OnRecord may return an error to
// abort decoding early (ShouldEnterBlock only answers yes or no); a
// well-formed stream only ever returns nil from ValidateSignature and
// proceeds node by node.
type Visitor interface {
	// ValidateSignature checks the stream's four-byte magic.
	ValidateSignature(sig [4]byte) error
	// ShouldEnterBlock decides whether to descend into a block just
	// opened by ENTER_SUBBLOCK, or skip over it wholesale.
	ShouldEnterBlock(blockID uint64) bool
	// OnBlockExit is called once a block's END_BLOCK has been consumed.
	OnBlockExit(blockID uint64) error
	// OnRecord is called for both abbreviated and unabbreviated
	// records (not for the BLOCKINFO SETBID record, which is handled
	// internally as stream structure rather than application data).
	OnRecord(blockID uint64, code uint64, fields []uint64, arrayElems []uint64, blob []byte) error
}

type decodeFrame struct {
	blockID     uint64
	abbrevWidth uint
	abbrevs     []Abbrev
}

func readAbbrevOperands(r *Reader) ([]Operand, error) {
	n, err := r.ReadVBR(5)
	if err != nil {
		return nil, err
	}
	ops := make([]Operand, 0, n)
	for i := uint64(0); i < n; i++ {
		isLiteral, err := r.ReadFixed(1)
		if err != nil {
			return nil, err
		}
		if isLiteral == 1 {
			v, err := r.ReadVBR(8)
			if err != nil {
				return nil, err
			}
			ops = append(ops, Literal(v))
			continue
		}
		enc, err := r.ReadFixed(3)
		if err != nil {
			return nil, err
		}
		switch enc {
		case 1:
			w, err := r.ReadVBR(5)
			if err != nil {
				return nil, err
			}
			ops = append(ops, Fixed(w))
		case 2:
			w, err := r.ReadVBR(5)
			if err != nil {
				return nil, err
			}
			ops = append(ops, VBR(w))
		case 3:
			ops = append(ops, Array())
		case 4:
			ops = append(ops, Char6())
		case 5:
			ops = append(ops, Blob())
		default:
			return nil, newFormatError("FMT002", "unknown abbreviation operand encoding")
		}
	}
	return ops, nil
}

// decodeRecordWithAbbrev reads one record's operands per the shape of
// abbrev. The first scalar operand encountered (literal or read from
// the stream) is treated as the record code, mirroring how Encoder's
// EmitRecord treats its code argument.
func decodeRecordWithAbbrev(r *Reader, abbrev Abbrev) (code uint64, fields []uint64, arrayElems []uint64, blob []byte, err error) {
	codeSet := false
	setScalar := func(v uint64) {
		if !codeSet {
			code = v
			codeSet = true
			return
		}
		fields = append(fields, v)
	}
	for i := 0; i < len(abbrev.Operands); i++ {
		op := abbrev.Operands[i]
		switch op.Kind {
		case OperandLiteral:
			setScalar(op.Value)
		case OperandFixed:
			v, e := r.ReadFixed(uint(op.Value))
			if e != nil {
				return 0, nil, nil, nil, e
			}
			setScalar(v)
		case OperandVBR:
			v, e := r.ReadVBR(uint(op.Value))
			if e != nil {
				return 0, nil, nil, nil, e
			}
			setScalar(v)
		case OperandChar6:
			v, e := r.ReadFixed(6)
			if e != nil {
				return 0, nil, nil, nil, e
			}
			setScalar(uint64(char6Decode(v)))
		case OperandBlob:
			b, e := r.ReadBlob()
			if e != nil {
				return 0, nil, nil, nil, e
			}
			blob = b
		case OperandArray:
			if i+1 >= len(abbrev.Operands) {
				return 0, nil, nil, nil, newFormatError("FMT002", "array operand missing element type")
			}
			elemOp := abbrev.Operands[i+1]
			i++
			n, e := r.ReadVBR(6)
			if e != nil {
				return 0, nil, nil, nil, e
			}
			for j := uint64(0); j < n; j++ {
				switch elemOp.Kind {
				case OperandFixed:
					v, e := r.ReadFixed(uint(elemOp.Value))
					if e != nil {
						return 0, nil, nil, nil, e
					}
					arrayElems = append(arrayElems, v)
				case OperandVBR:
					v, e := r.ReadVBR(uint(elemOp.Value))
					if e != nil {
						return 0, nil, nil, nil, e
					}
					arrayElems = append(arrayElems, v)
				case OperandChar6:
					v, e := r.ReadFixed(6)
					if e != nil {
						return 0, nil, nil, nil, e
					}
					arrayElems = append(arrayElems, uint64(char6Decode(v)))
				default:
					return 0, nil, nil, nil, newFormatError("FMT002", "unsupported array element kind")
				}
			}
		}
	}
	return code, fields, arrayElems, blob, nil
}

// Decode drives v over data: signature, then blocks and records until
// the outermost block (if any) closes and the stream ends.
func Decode(data []byte, v Visitor) error {
	r := NewReader(data)

	var sig [4]byte
	for i := range sig {
		b, err := r.ReadFixed(8)
		if err != nil {
			return newFormatError("FMT001", "truncated signature")
		}
		sig[i] = byte(b)
	}
	if err := v.ValidateSignature(sig); err != nil {
		return err
	}

	blockInfoAbbrevs := map[uint64][]Abbrev{}
	var stack []decodeFrame
	var curSetBID uint64
	var inBlockInfo bool

	currentWidth := func() uint {
		if len(stack) == 0 {
			return initialAbbrevWidth
		}
		return stack[len(stack)-1].abbrevWidth
	}

	for !r.AtEnd() {
		width := currentWidth()
		abbrevID, err := r.ReadFixed(width)
		if err != nil {
			return err
		}

		switch abbrevID {
		case AbbrevEndBlock:
			if len(stack) == 0 {
				return newFormatError("FMT010", "END_BLOCK with no open block")
			}
			r.Align32()
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if frame.blockID == BlockInfoBlockID {
				inBlockInfo = false
			}
			if err := v.OnBlockExit(frame.blockID); err != nil {
				return err
			}

		case AbbrevEnterSubblock:
			blockID, err := r.ReadVBR(8)
			if err != nil {
				return err
			}
			newWidth, err := r.ReadVBR(4)
			if err != nil {
				return err
			}
			r.Align32()
			lengthWords, err := r.ReadFixed(32)
			if err != nil {
				return err
			}

			if !v.ShouldEnterBlock(blockID) {
				r.bitPos += lengthWords * 32
				continue
			}
			inherited := append([]Abbrev{}, blockInfoAbbrevs[blockID]...)
			stack = append(stack, decodeFrame{blockID: blockID, abbrevWidth: uint(newWidth), abbrevs: inherited})
			if blockID == BlockInfoBlockID {
				inBlockInfo = true
				curSetBID = 0
			}

		case AbbrevDefineAbbrev:
			ops, err := readAbbrevOperands(r)
			if err != nil {
				return err
			}
			if inBlockInfo {
				blockInfoAbbrevs[curSetBID] = append(blockInfoAbbrevs[curSetBID], Abbrev{Operands: ops})
			} else {
				if len(stack) == 0 {
					return newFormatError("FMT010", "DEFINE_ABBREV outside any block")
				}
				frame := &stack[len(stack)-1]
				frame.abbrevs = append(frame.abbrevs, Abbrev{Operands: ops})
			}

		case AbbrevUnabbreviatedRecord:
			code, err := r.ReadVBR(6)
			if err != nil {
				return err
			}
			n, err := r.ReadVBR(6)
			if err != nil {
				return err
			}
			fields := make([]uint64, n)
			for i := range fields {
				fields[i], err = r.ReadVBR(6)
				if err != nil {
					return err
				}
			}
			if inBlockInfo && code == blockInfoSetBID {
				if len(fields) == 0 {
					return newFormatError("FMT010", "SETBID record with no operand")
				}
				curSetBID = fields[0]
				continue
			}
			blockID := uint64(0)
			if len(stack) > 0 {
				blockID = stack[len(stack)-1].blockID
			}
			if err := v.OnRecord(blockID, code, fields, nil, nil); err != nil {
				return err
			}

		default:
			if len(stack) == 0 {
				return newFormatError("FMT002", "record abbreviation outside any block")
			}
			frame := stack[len(stack)-1]
			idx := abbrevID - FirstApplicationAbbrevID
			if idx >= uint64(len(frame.abbrevs)) {
				return newFormatError("FMT002", "unknown abbreviation id")
			}
			code, fields, arrayElems, blob, err := decodeRecordWithAbbrev(r, frame.abbrevs[idx])
			if err != nil {
				return err
			}
			if err := v.OnRecord(frame.blockID, code, fields, arrayElems, blob); err != nil {
				return err
			}
		}
	}

	if len(stack) != 0 {
		return newFormatError("FMT010", "unexpected end of stream with open blocks")
	}
	return nil
}
