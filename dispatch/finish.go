package dispatch

import (
	"github.com/omalloc/reqqueue/delivery"
	"github.com/omalloc/reqqueue/request"
)

// deliverAndFinish posts del to the delivery context, then runs req's
// terminal transition, fanning the same outcome out to every request that
// joined onto it as a duplicate (§3 "Joined request", §4.F "finish() ...
// fans out to joined waiters using the last delivered result", §8
// property 7, scenario S5).
//
// Grounded on dispatch/cache.go's original no-op finish callback, extended
// so coalesced duplicates actually receive a delivery instead of merely
// being released.
func deliverAndFinish(d *delivery.Context, dt request.DeliveryType, del delivery.Delivery) {
	post(d, dt, del)
	del.Req.Finish(func(w *request.Request) {
		waiterDelivery := del
		waiterDelivery.Req = w
		post(d, dt, waiterDelivery)
	})
}

// post marks req delivered and posts del without finishing it — used for
// a soft-expired cache hit, which delivers now but stays open for the
// network leg to finish it later (§4.D step 5).
func post(d *delivery.Context, dt request.DeliveryType, del delivery.Delivery) {
	del.Req.MarkDelivered(dt)
	d.Post(del)
}

// finishWithoutDelivery terminates req (and cascades to its waiters) with
// no outcome to report — used for the cancelled-before-dispatch path
// where there is nothing to fan out (§4.D step 1, §4.E step 1).
func finishWithoutDelivery(req *request.Request) {
	req.Finish(func(*request.Request) {})
}
