package cip

import (
	"bytes"
	"encoding/binary"
	"io"
)

// MessageRouterRequest represents a request to the Message Router Object
type MessageRouterRequest struct {
	Service     USINT
	RequestPath Path
	RequestData []byte
}

// Encode encodes the request into a byte slice
func (r *MessageRouterRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, r.Service); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.RequestPath.LenWords()); err != nil {
		return nil, err
	}
	if _, err := buf.Write(r.RequestPath.Bytes()); err != nil {
		return nil, err
	}
	if len(r.RequestData) > 0 {
		if _, err := buf.Write(r.RequestData); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeMessageRouterRequest decodes a byte slice into a MessageRouterRequest.
// The request path length is given in 16-bit words, so the raw path bytes
// are pathWords*2 long.
func DecodeMessageRouterRequest(data []byte) (*MessageRouterRequest, error) {
	buf := bytes.NewReader(data)

	var service USINT
	if err := binary.Read(buf, binary.LittleEndian, &service); err != nil {
		return nil, err
	}
	var pathWords USINT
	if err := binary.Read(buf, binary.LittleEndian, &pathWords); err != nil {
		return nil, err
	}

	pathBytes := make([]byte, int(pathWords)*2)
	if len(pathBytes) > 0 {
		if _, err := io.ReadFull(buf, pathBytes); err != nil {
			return nil, err
		}
	}

	remaining := buf.Len()
	var requestData []byte
	if remaining > 0 {
		requestData = make([]byte, remaining)
		if _, err := io.ReadFull(buf, requestData); err != nil {
			return nil, err
		}
	}

	return &MessageRouterRequest{
		Service:     service,
		RequestPath: Path(pathBytes),
		RequestData: requestData,
	}, nil
}

// MessageRouterResponse represents a response from the Message Router Object
type MessageRouterResponse struct {
	Service       USINT // Reply Service (Request Service | 0x80)
	Reserved      USINT
	GeneralStatus USINT
	ExtStatusSize USINT
	ExtStatus     []UINT
	ResponseData  []byte
}

// DecodeMessageRouterResponse decodes a byte slice into a MessageRouterResponse
func DecodeMessageRouterResponse(data []byte) (*MessageRouterResponse, error) {
	r := &MessageRouterResponse{}
	buf := bytes.NewReader(data)

	if err := binary.Read(buf, binary.LittleEndian, &r.Service); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &r.Reserved); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &r.GeneralStatus); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &r.ExtStatusSize); err != nil {
		return nil, err
	}

	if r.ExtStatusSize > 0 {
		r.ExtStatus = make([]UINT, r.ExtStatusSize)
		for i := 0; i < int(r.ExtStatusSize); i++ {
			if err := binary.Read(buf, binary.LittleEndian, &r.ExtStatus[i]); err != nil {
				return nil, err
			}
		}
	}

	// The rest is response data
	remaining := buf.Len()
	if remaining > 0 {
		r.ResponseData = make([]byte, remaining)
		if _, err := io.ReadFull(buf, r.ResponseData); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Encode encodes the response into a byte slice.
func (r *MessageRouterResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, r.Service); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.Reserved); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.GeneralStatus); err != nil {
		return nil, err
	}
	extStatusSize := USINT(len(r.ExtStatus))
	if err := binary.Write(buf, binary.LittleEndian, extStatusSize); err != nil {
		return nil, err
	}
	for _, s := range r.ExtStatus {
		if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
			return nil, err
		}
	}
	if len(r.ResponseData) > 0 {
		if _, err := buf.Write(r.ResponseData); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// IsSuccess checks if the response indicates success
func (r *MessageRouterResponse) IsSuccess() bool {
	return r.GeneralStatus == StatusSuccess
}

// Error returns a structured error if the response failed
func (r *MessageRouterResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return Error{
		Status:    r.GeneralStatus,
		ExtStatus: r.ExtStatus,
	}
}
