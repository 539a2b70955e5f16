// Package model defines the directory records exchanged between the source
// of record, the local mirror, and the cloud directory platform.
//
// Identity rules:
//   - SourceUser.ID and SourceDept.DeptID are minted by the source and are
//     the cross-system keys.
//   - The cloud carries them back as CloudUser.ThirdUnionID and
//     CloudDept.ExDeptID.
//   - CompanyUID and cloud DeptID values are opaque and assigned by the cloud.
package model
