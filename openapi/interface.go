package openapi

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type HttpStatus interface {
	HttpStatus() int
}
