package replicator

import "go.brokerha.dev/internal/ha/types"

// Exchange is the replicator exchange a backup hosts for one replicated
// source queue: named via types.ReplicatorExchangeName, typed
// types.ReplicatorTypeName. It is not for general routing — bind/unbind/
// isBound always report false — it only exists to give the bridge a
// destination to deliver onto.
//
// It starts auto-delete so it disappears if the replicator is torn down
// without a role change; Promoted clears that flag when this broker takes
// over as primary and the exchange (and its bridge) must outlive the
// backup role that created it.
type Exchange struct {
	name       string
	autoDelete bool
}

// NewExchange creates the replicator exchange for sourceQueue.
func NewExchange(sourceQueue string) *Exchange {
	return &Exchange{name: types.ReplicatorExchangeName(sourceQueue), autoDelete: true}
}

func (e *Exchange) Name() string { return e.name }

func (e *Exchange) Type() string { return types.ReplicatorTypeName }

func (e *Exchange) AutoDelete() bool { return e.autoDelete }

// Promoted implements ports.PromotableExchange: called when this broker is
// promoted to primary while a replicator exchange from its former backup
// role is still present.
func (e *Exchange) Promoted() { e.autoDelete = false }

func (e *Exchange) Bind(string, string, map[string]string) bool   { return false }
func (e *Exchange) Unbind(string, string) bool                    { return false }
func (e *Exchange) IsBound(string, string) bool                   { return false }
