package ldapwire

import (
	ldap "github.com/lor00x/goldap/message"
)

// LDAP result codes from RFC 4511 §4.1.9, limited to the set the proxy
// actually emits.
const (
	LDAPResultSuccess                = 0
	LDAPResultOperationsError        = 1
	LDAPResultProtocolError          = 2
	LDAPResultInvalidCredentials     = 49
	LDAPResultInsufficientAccessRights = 50
	LDAPResultUnavailable            = 52
	LDAPResultUnwillingToPerform     = 53
	LDAPResultOther                  = 80
)

// NoticeOfDisconnection is the OID servers use when unilaterally tearing
// down a session (RFC 4511 §4.4.1).
const NoticeOfDisconnection = "1.3.6.1.4.1.1466.20036"

// NoticeOfStartTLS is the StartTLS extended operation OID.
const NoticeOfStartTLS = "1.3.6.1.4.1.1466.20037"

// NewBindResponse builds a BindResponse carrying the given result code.
func NewBindResponse(resultCode int) ldap.BindResponse {
	r := ldap.BindResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewSearchResultDoneResponse builds a SearchResultDone carrying the given
// result code.
func NewSearchResultDoneResponse(resultCode int) ldap.SearchResultDone {
	r := ldap.SearchResultDone{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewSearchResultEntry builds an empty SearchResultEntry for the given DN.
func NewSearchResultEntry(dn string) ldap.SearchResultEntry {
	e := ldap.SearchResultEntry{}
	e.SetObjectName(dn)
	return e
}

// NewExtendedResponse builds an ExtendedResponse carrying the given result
// code.
func NewExtendedResponse(resultCode int) ldap.ExtendedResponse {
	r := ldap.ExtendedResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewAddResponse builds an AddResponse carrying the given result code.
func NewAddResponse(resultCode int) ldap.AddResponse {
	r := ldap.AddResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewDelResponse builds a DelResponse carrying the given result code.
func NewDelResponse(resultCode int) ldap.DelResponse {
	r := ldap.DelResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewModifyResponse builds a ModifyResponse carrying the given result code.
func NewModifyResponse(resultCode int) ldap.ModifyResponse {
	r := ldap.ModifyResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewModifyDNResponse builds a ModifyDNResponse carrying the given result
// code.
func NewModifyDNResponse(resultCode int) ldap.ModifyDNResponse {
	r := ldap.ModifyDNResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}

// NewCompareResponse builds a CompareResponse carrying the given result
// code.
func NewCompareResponse(resultCode int) ldap.CompareResponse {
	r := ldap.CompareResponse{}
	r.SetResultCode(ldap.ResultCode(resultCode))
	return r
}
