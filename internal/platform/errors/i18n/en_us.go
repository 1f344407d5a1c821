package i18n

// enUSMessages holds the user-facing templates for the base locale.
// Keys must match the codes defined in internal/platform/errors/codes.go.
var enUSMessages = map[Code]string{
	"CRYPTO_INVALID_SIGNATURE":                    "The request signature could not be verified.",
	"CRYPTO_INVALID_KEY":                          "The public key is not a valid signing key.",
	"CRYPTO_DECRYPTION_FAILED":                    "The ciphertext could not be decrypted.",
	"MESSAGE_MALFORMED":                           "The signed message could not be decoded.",
	"VERSION_INCOMPATIBLE":                        "This client is out of date. Upgrade to continue.",
	"UNEXPECTED_BODY":                             "This request kind is not accepted here.",
	"INVITE_LINK_MALFORMED":                       "The invitation link is not valid.",
	"TEAM_POINTER_UNMATCHED":                      "The block does not belong to this team.",
	"NOT_AN_ADMIN":                                "Only team admins can do that.",
	"NOT_A_MEMBER":                                "You are not a member of this team.",
	"INVITE_NOT_VALID":                            "The invitation is not valid for this identity.",
	"INVITE_KEY_IN_USE":                           "That invitation key is already in use.",
	"ALREADY_ON_TEAM":                             "That member is already on the team.",
	"EMAIL_IN_USE":                                "The email {{.Email}} is already in use on this team.",
	"CLOSE_INVITATIONS_FIRST":                     "Close pending invitations before inviting this key again.",
	"INVITE_LAST_BLOCK_HASH_NOT_REACHED":          "The team chain has not reached the invitation checkpoint.",
	"TEAM_CHECKPOINT_LAST_BLOCK_HASH_NOT_REACHED": "The team chain has not reached the expected checkpoint.",
	"INVITE_RESTRICTION_EMPTY":                    "An invitation link needs a domain or at least one email.",
	"INVITE_SYMMETRIC_KEY_HASH_REQUIRED":          "The invitation key hash is required.",
	"INVITE_CIPHERTEXT_NOT_FOUND":                 "No invitation matches that link.",
	"CANNOT_REMOVE_SELF":                          "You cannot remove yourself. Leave the team instead.",
	"ALREADY_ADMIN":                               "That member is already an admin.",
	"NOT_ADMIN_TARGET":                            "That member is not an admin.",
	"HOST_KEY_ALREADY_PINNED":                     "That host key is already pinned.",
	"HOST_KEY_NOT_PINNED":                         "That host key is not pinned.",
	"LOGGING_ALREADY_ENABLED":                     "Audit logging is already enabled.",
	"LOGGING_NOT_ENABLED":                         "Audit logging is not enabled.",
	"LOG_CHAIN_NOT_IN_TEAM":                       "The log chain is not part of this team.",
	"LOG_CHAIN_SYMMETRIC_KEY_UNAVAILABLE":         "No log encryption key is available yet.",
	"NOT_APPENDING_TO_MAIN_CHAIN":                 "The team changed while you were working. Refresh and try again.",
	"BLOCK_EXISTS":                                "That block was already recorded.",
	"BLOCK_NOT_FOUND":                             "The referenced block does not exist.",
	"CHAIN_LINK_MISMATCH":                         "The chain returned by the server does not link up.",
	"READ_TOKEN_INVALID":                          "The read token is not valid.",
	"READ_TOKEN_EXPIRED":                          "The read token has expired.",
	"READ_TOKEN_MISMATCH":                         "The read token was issued for a different reader.",
	"READ_NOT_AUTHORIZED":                         "You are not allowed to read this team.",
	"FILTER_INVALID":                              "The filter expression is not valid.",
	"NOT_FOUND":                                   "The requested record was not found.",
}
