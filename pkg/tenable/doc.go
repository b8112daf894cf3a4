// Package tenable is a small client for the Tenable.io audit-log API.
//
// It issues the single GET the poller needs per run:
//
//	GET https://{domain}/audit-log/v1/events?f=date.gt:YYYY-MM-DD&limit=N
//
// authenticated with the x-apikeys header. Non-2xx responses come back as
// *errors.Error values carrying the status code and a preview of the body.
package tenable
