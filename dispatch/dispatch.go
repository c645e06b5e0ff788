// Package dispatch is the JSON command surface over a registry: one
// request/response pair per call, addressed by database name and rpc name.
// Write transactions opened through the surface are held in a table and
// addressed by transaction id until committed or aborted.
package dispatch

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"perch"
	"perch/codec"
	"perch/registry"
)

var errEmptyKey = errors.New("key must be non-empty")

// keyRequest addresses one entry. Values are UTF-8 text at this layer.
// With a transaction id the request runs inside that open transaction;
// without one it runs as a one-shot.
type keyRequest struct {
	Key           string  `json:"key"`
	Value         string  `json:"value,omitempty"`
	TransactionID *uint32 `json:"transactionId,omitempty"`
}

type txRequest struct {
	TransactionID uint32 `json:"transactionId"`
}

type openTxResponse struct {
	TransactionID uint32 `json:"transactionId"`
}

type hasResponse struct {
	Has bool `json:"has"`
}

type getResponse struct {
	Value *string `json:"value,omitempty"`
	Has   bool    `json:"has"`
}

type emptyResponse struct{}

var (
	keyCodec     = codec.NewJsonCodec[keyRequest]()
	txCodec      = codec.NewJsonCodec[txRequest]()
	openTxCodec  = codec.NewJsonCodec[openTxResponse]()
	hasCodec     = codec.NewJsonCodec[hasResponse]()
	getCodec     = codec.NewJsonCodec[getResponse]()
	emptyCodec   = codec.NewJsonCodec[emptyResponse]()
	openDbsCodec = codec.NewJsonCodec[[]string]()
)

// txID hands out transaction identifiers; Inc is safe for concurrent use.
type txID uint32

func (id *txID) Inc() uint32 {
	return atomic.AddUint32((*uint32)(id), 1)
}

type Dispatcher struct {
	reg    *registry.Registry
	nextID txID
	txs    *skipmap.Uint64Map[perch.Write]
}

func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		reg: reg,
		txs: skipmap.NewUint64[perch.Write](),
	}
}

// Dispatch runs one rpc against the named database. open, close and debug
// manage the registry; everything else requires the name to be open.
func (d *Dispatcher) Dispatch(db, rpc string, payload []byte) ([]byte, error) {
	switch rpc {
	case "open":
		_, err := d.reg.Open(db)
		return nil, err
	case "close":
		return nil, d.reg.Close(db)
	case "debug":
		return d.debug(payload)
	}

	s, ok := d.reg.Get(db)
	if !ok {
		return nil, fmt.Errorf("%q not open", db)
	}

	switch rpc {
	case "has":
		return d.has(s, payload)
	case "get":
		return d.get(s, payload)
	case "put":
		return d.put(s, payload)
	case "del":
		return d.del(s, payload)
	case "openTransaction":
		return d.openTransaction(s)
	case "commitTransaction":
		return d.commitTransaction(payload)
	case "abortTransaction":
		return d.abortTransaction(payload)
	default:
		return nil, fmt.Errorf("unsupported rpc name %q", rpc)
	}
}

// Shutdown rolls back every transaction still open through the surface,
// then closes every store.
func (d *Dispatcher) Shutdown() error {
	d.txs.Range(func(id uint64, wt perch.Write) bool {
		d.txs.Delete(id)
		wt.Release()
		return true
	})
	return d.reg.CloseAll()
}

func (d *Dispatcher) debug(payload []byte) ([]byte, error) {
	switch string(payload) {
	case "open_dbs":
		return openDbsCodec.Encode(d.reg.List())
	default:
		return nil, fmt.Errorf("unsupported debug command %q", payload)
	}
}

func (d *Dispatcher) has(s perch.Store, payload []byte) ([]byte, error) {
	req, err := decodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	ok, err := d.reqHas(s, req)
	if err != nil {
		return nil, err
	}
	return hasCodec.Encode(hasResponse{Has: ok})
}

func (d *Dispatcher) get(s perch.Store, payload []byte) ([]byte, error) {
	req, err := decodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	v, ok, err := d.reqGet(s, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return getCodec.Encode(getResponse{Has: false})
	}
	value := string(v)
	return getCodec.Encode(getResponse{Value: &value, Has: true})
}

func (d *Dispatcher) put(s perch.Store, payload []byte) ([]byte, error) {
	req, err := decodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	if req.TransactionID == nil {
		if err := s.Put(req.Key, []byte(req.Value)); err != nil {
			return nil, err
		}
		return emptyCodec.Encode(emptyResponse{})
	}
	wt, err := d.tx(*req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := wt.Put(req.Key, []byte(req.Value)); err != nil {
		return nil, err
	}
	return emptyCodec.Encode(emptyResponse{})
}

func (d *Dispatcher) del(s perch.Store, payload []byte) ([]byte, error) {
	req, err := decodeKeyRequest(payload)
	if err != nil {
		return nil, err
	}
	if req.TransactionID == nil {
		if err := oneShotDel(s, req.Key); err != nil {
			return nil, err
		}
		return emptyCodec.Encode(emptyResponse{})
	}
	wt, err := d.tx(*req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := wt.Del(req.Key); err != nil {
		return nil, err
	}
	return emptyCodec.Encode(emptyResponse{})
}

func (d *Dispatcher) openTransaction(s perch.Store) ([]byte, error) {
	wt, err := s.Write()
	if err != nil {
		return nil, err
	}
	id := d.nextID.Inc()
	d.txs.Store(uint64(id), wt)
	return openTxCodec.Encode(openTxResponse{TransactionID: id})
}

func (d *Dispatcher) commitTransaction(payload []byte) ([]byte, error) {
	req, err := txCodec.Decode(payload)
	if err != nil {
		return nil, err
	}
	wt, err := d.take(req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := wt.Commit(); err != nil {
		return nil, err
	}
	return emptyCodec.Encode(emptyResponse{})
}

func (d *Dispatcher) abortTransaction(payload []byte) ([]byte, error) {
	req, err := txCodec.Decode(payload)
	if err != nil {
		return nil, err
	}
	wt, err := d.take(req.TransactionID)
	if err != nil {
		return nil, err
	}
	if err := wt.Rollback(); err != nil {
		return nil, err
	}
	return emptyCodec.Encode(emptyResponse{})
}

func (d *Dispatcher) reqHas(s perch.Store, req keyRequest) (bool, error) {
	if req.TransactionID == nil {
		return s.Has(req.Key)
	}
	wt, err := d.tx(*req.TransactionID)
	if err != nil {
		return false, err
	}
	return wt.Has(req.Key)
}

func (d *Dispatcher) reqGet(s perch.Store, req keyRequest) ([]byte, bool, error) {
	if req.TransactionID == nil {
		return s.Get(req.Key)
	}
	wt, err := d.tx(*req.TransactionID)
	if err != nil {
		return nil, false, err
	}
	return wt.Get(req.Key)
}

// tx looks a transaction up without consuming it.
func (d *Dispatcher) tx(id uint32) (perch.Write, error) {
	wt, ok := d.txs.Load(uint64(id))
	if !ok {
		return nil, fmt.Errorf("transaction %d not open", id)
	}
	return wt, nil
}

// take removes the transaction from the table; commit and abort each
// consume the id.
func (d *Dispatcher) take(id uint32) (perch.Write, error) {
	wt, ok := d.txs.LoadAndDelete(uint64(id))
	if !ok {
		return nil, fmt.Errorf("transaction %d not open", id)
	}
	return wt, nil
}

func decodeKeyRequest(payload []byte) (keyRequest, error) {
	req, err := keyCodec.Decode(payload)
	if err != nil {
		return keyRequest{}, err
	}
	if req.Key == "" {
		return keyRequest{}, errEmptyKey
	}
	return req, nil
}

// oneShotDel stands in for a store-level delete convenience.
func oneShotDel(s perch.Store, key string) error {
	wt, err := s.Write()
	if err != nil {
		return err
	}
	if err := wt.Del(key); err != nil {
		_ = wt.Rollback()
		return err
	}
	return wt.Commit()
}
