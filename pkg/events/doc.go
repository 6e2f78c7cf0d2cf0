/*
Package events provides an in-memory event broker for Atomix's pub/sub
notifications.

Broker broadcasts Event values to every Subscribe()'d channel: a full
subscriber buffer drops the event rather than stalling the broadcast.
Publish itself waits when the broker's internal queue is full. Event
types cover membership (EventMemberJoined/Left), sessions
(EventSessionOpened/Expired/Closed) and replica role transitions
(EventRoleChanged, EventLeaderChanged, EventTermChanged); no other
package in this module imports the broker.
*/
package events
